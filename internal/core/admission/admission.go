// Package admission bounds how many calls are in flight against one
// provider at a time: a per-provider counting semaphore built on a buffered
// channel. Providers enforce per-key concurrency and rate limits upstream;
// admitting only a bounded number of calls client-side avoids 429 storms
// and unbounded fan-out.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/howard-nolan/llmrouter/internal/core/metrics"
)

// Lease represents one admitted slot. Release must be called exactly once,
// typically via defer immediately after Acquire succeeds.
type Lease struct {
	sem chan struct{}
}

// Release returns the slot to the provider's pool.
func (l *Lease) Release() {
	<-l.sem
}

// Controller hands out Leases bounded by a per-provider concurrency limit
// (the merged config's ConcurrencyLimit). Semaphores are created lazily, on
// first use, sized by whatever limit that first caller supplies.
type Controller struct {
	metrics metrics.Sink

	mu   sync.Mutex
	sems map[string]chan struct{}
}

// New builds a Controller reporting admission waits through sink. A nil sink
// is replaced with metrics.Nop{}.
func New(sink metrics.Sink) *Controller {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Controller{metrics: sink, sems: make(map[string]chan struct{})}
}

// Acquire blocks until providerID has a free slot or ctx is done, whichever
// comes first. A call cancelled while waiting releases nothing; a call
// cancelled after being admitted must still call Release.
func (c *Controller) Acquire(ctx context.Context, providerID string, limit int) (*Lease, error) {
	sem := c.semFor(providerID, limit)
	start := time.Now()

	select {
	case sem <- struct{}{}:
		c.metrics.ObserveAdmissionWait(providerID, time.Since(start))
		return &Lease{sem: sem}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) semFor(providerID string, limit int) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	sem, ok := c.sems[providerID]
	if !ok {
		if limit <= 0 {
			limit = 1
		}
		sem = make(chan struct{}, limit)
		c.sems[providerID] = sem
	}
	return sem
}
