package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/howard-nolan/llmrouter/internal/core/logging"
)

const defaultMaxEntries = 200

// entry pairs a cached value with its absolute expiry. TTL is the primary
// eviction mechanism; the LRU size cap only kicks in on overflow.
type entry[V any] struct {
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e entry[V]) expired(now time.Time) bool { return now.After(e.ExpiresAt) }

// Store is the two-tier cache every pipeline call goes through: an
// in-memory LRU (always present, size-capped) and an optional Redis tier
// behind it. A Store is generic over the cached value type so both chat
// responses and embedding vectors use the same implementation.
type Store[V any] struct {
	mem   *lru.Cache[string, entry[V]]
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
	log   logging.Logger

	mu        sync.Mutex // serializes LRU eviction bookkeeping across goroutines
	sweepStop chan struct{}
}

// Option configures a Store at construction.
type Option[V any] func(*Store[V])

// WithRedis backs the Store with a Redis tier in addition to the in-memory
// LRU. Entries are JSON-encoded.
func WithRedis[V any](client *redis.Client) Option[V] {
	return func(s *Store[V]) { s.redis = client }
}

// WithMaxEntries overrides the in-memory LRU's size cap (default 200).
func WithMaxEntries[V any](n int) Option[V] {
	return func(s *Store[V]) {
		s.mem, _ = lru.New[string, entry[V]](n)
	}
}

// WithLogger overrides the Store's logger (default logging.Nop{}).
func WithLogger[V any](l logging.Logger) Option[V] {
	return func(s *Store[V]) { s.log = l }
}

// New builds a Store with the given default TTL. Individual SetWithTTL calls
// may override it per entry.
func New[V any](ttl time.Duration, opts ...Option[V]) *Store[V] {
	s := &Store[V]{ttl: ttl, log: logging.Nop{}}
	s.mem, _ = lru.New[string, entry[V]](defaultMaxEntries)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSweeper launches a background goroutine that evicts expired in-memory
// entries on an interval, so idle entries don't pin memory until the next
// lookup happens to touch them. Call Stop to end it.
func (s *Store[V]) StartSweeper(interval time.Duration) {
	s.sweepStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepExpired()
			case <-s.sweepStop:
				return
			}
		}
	}()
}

// Stop ends a running sweeper goroutine, if one was started.
func (s *Store[V]) Stop() {
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
}

func (s *Store[V]) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, key := range s.mem.Keys() {
		if e, ok := s.mem.Peek(key); ok && e.expired(now) {
			s.mem.Remove(key)
		}
	}
}

// TryGet reads a value without triggering a fetch. The in-memory tier is
// checked first; a miss there falls through to Redis (if configured) and, on
// a Redis hit, populates the memory tier before returning.
func (s *Store[V]) TryGet(ctx context.Context, key string) (V, bool) {
	var zero V

	if e, ok := s.mem.Get(key); ok {
		if !e.expired(time.Now()) {
			return e.Value, true
		}
		s.mem.Remove(key)
	}

	if s.redis == nil {
		return zero, false
	}

	raw, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			s.log.Warning("cache: redis Get(%s) failed: %v", key, err)
		}
		return zero, false
	}

	var e entry[V]
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		s.log.Warning("cache: corrupt redis entry for %s: %v", key, err)
		return zero, false
	}
	if e.expired(time.Now()) {
		return zero, false
	}
	s.mem.Add(key, e)
	return e.Value, true
}

// Set writes a value to both tiers with the Store's default TTL.
func (s *Store[V]) Set(ctx context.Context, key string, value V) {
	s.SetWithTTL(ctx, key, value, s.ttl)
}

// SetWithTTL writes a value with an explicit TTL, overriding the Store's
// default for this one entry.
func (s *Store[V]) SetWithTTL(ctx context.Context, key string, value V, ttl time.Duration) {
	e := entry[V]{Value: value, ExpiresAt: time.Now().Add(ttl)}
	s.mem.Add(key, e)

	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		s.log.Warning("cache: marshal entry for %s: %v", key, err)
		return
	}
	if err := s.redis.Set(ctx, key, raw, ttl).Err(); err != nil {
		s.log.Warning("cache: redis Set(%s) failed: %v", key, err)
	}
}

// InvalidateByPrefix removes every cached entry whose key starts with
// prefix, from both tiers, e.g. all entries for a provider whose
// credentials just rotated.
func (s *Store[V]) InvalidateByPrefix(ctx context.Context, prefix string) {
	s.mu.Lock()
	for _, key := range s.mem.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.mem.Remove(key)
		}
	}
	s.mu.Unlock()

	if s.redis == nil {
		return
	}
	iter := s.redis.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			s.log.Warning("cache: redis Del(%s) failed: %v", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		s.log.Warning("cache: redis Scan(%s*) failed: %v", prefix, err)
	}
}

// GetOrJoin implements the single-flight half of the cache: concurrent
// callers requesting the same key share one in-flight factory call. A joiner
// that cancels its own ctx sees that cancellation; it does NOT cancel the
// producing factory or the other joiners; singleflight.Group already gives
// us this for free, since the factory runs detached from any one caller's
// context.
func (s *Store[V]) GetOrJoin(ctx context.Context, key string, factory func(context.Context) (V, error)) (V, error, bool) {
	if v, ok := s.TryGet(ctx, key); ok {
		return v, nil, true
	}

	type result struct {
		value V
		err   error
	}

	resCh := s.group.DoChan(key, func() (any, error) {
		// Deliberately context.Background(), not ctx: the factory must
		// outlive any single joiner's cancellation.
		v, err := factory(context.Background())
		if err != nil {
			return result{err: err}, err
		}
		s.Set(context.Background(), key, v)
		return result{value: v}, nil
	})

	select {
	case r := <-resCh:
		res := r.Val.(result)
		return res.value, res.err, false
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err(), false
	}
}
