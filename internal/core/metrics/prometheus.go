package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus is the default Sink implementation. The registry is explicitly
// constructed and owned by whoever calls NewPrometheus (normally the host's
// main.go), never a package-level global. The only process-wide singleton
// in this codebase is the HTTP transport pool (see httpexec).
type Prometheus struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	retries         *prometheus.CounterVec
	admissionWait   *prometheus.HistogramVec
}

// NewPrometheus builds a Sink and registers its collectors on reg. Passing a
// fresh *prometheus.Registry per process (or per test) avoids the classic
// "duplicate metrics collector registration" panic from reusing
// prometheus.DefaultRegisterer across tests.
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	p := &Prometheus{
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrouter_provider_request_duration_seconds",
			Help:    "Duration of outbound provider HTTP calls by provider and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmrouter_cache_hits_total",
			Help: "Cache lookups that found a live entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmrouter_cache_misses_total",
			Help: "Cache lookups that found no live entry.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmrouter_provider_retries_total",
			Help: "Retried outbound attempts by provider.",
		}, []string{"provider"}),
		admissionWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmrouter_admission_wait_seconds",
			Help:    "Time spent waiting for an admission lease by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	reg.MustRegister(p.requestDuration, p.cacheHits, p.cacheMisses, p.retries, p.admissionWait)
	return p
}

func (p *Prometheus) ObserveRequest(provider, outcome string, dur time.Duration) {
	p.requestDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

func (p *Prometheus) ObserveCacheResult(hit bool) {
	if hit {
		p.cacheHits.Inc()
		return
	}
	p.cacheMisses.Inc()
}

func (p *Prometheus) ObserveRetry(provider string) {
	p.retries.WithLabelValues(provider).Inc()
}

func (p *Prometheus) ObserveAdmissionWait(provider string, dur time.Duration) {
	p.admissionWait.WithLabelValues(provider).Observe(dur.Seconds())
}
