// Package metrics wires the gateway's counters/histograms/gauges to
// Prometheus (github.com/prometheus/client_golang), the concrete metric
// exposition chosen by SPEC_FULL.md. Recognised metric names and bucket
// boundaries come straight
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the gateway's single metrics façade. *Sink satisfies
// reliability.CacheMetricsCollector directly; the breaker/retry
// MetricsCollector reaches it through reliability.PrometheusMetrics.
type Sink struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHitsTotal      *prometheus.CounterVec
	retriesTotal        *prometheus.CounterVec
	breakerFastFailTotal *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
}

// durationBuckets is the exact bucket list requires, in
// milliseconds.
var durationBuckets = []float64{25, 50, 100, 200, 400, 800, 1600, 3200, 6400}

// New registers the gateway's metrics on reg (pass prometheus.NewRegistry()
// in tests to avoid colliding with the global default registry, or
// prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Sink {
	s := &Sink{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total tool invocations processed by the gateway.",
		}, []string{"tool", "action", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_ms",
			Help:    "Tool invocation latency in milliseconds.",
			Buckets: durationBuckets,
		}, []string{"tool", "action"}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache hits by tool and action.",
		}, []string{"tool", "action"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "retries_total",
			Help: "Retry attempts by tool, action, and failure reason class.",
		}, []string{"tool", "action", "reason"}),
		breakerFastFailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "breaker_fastfail_total",
			Help: "Circuit breaker fast-fail rejections by tool.",
		}, []string{"tool"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "breaker_state",
			Help: "Circuit breaker state: CLOSED=0, HALF_OPEN=1, OPEN=2.",
		}, []string{"tool"}),
	}

	for _, c := range []prometheus.Collector{
		s.requestsTotal, s.requestDuration, s.cacheHitsTotal,
		s.retriesTotal, s.breakerFastFailTotal, s.breakerState,
	} {
		reg.MustRegister(c)
	}
	return s
}

// RecordRequest records one completed invocation.
func (s *Sink) RecordRequest(tool, action, code string, durationMs float64) {
	s.requestsTotal.WithLabelValues(tool, action, code).Inc()
	s.requestDuration.WithLabelValues(tool, action).Observe(durationMs)
}

// RecordCacheHit increments the cache-hit counter.
func (s *Sink) RecordCacheHit(tool, action string) {
	s.cacheHitsTotal.WithLabelValues(tool, action).Inc()
}

// RecordRetry increments the retry counter for one attempt.
func (s *Sink) RecordRetry(tool, action, reasonClass string) {
	s.retriesTotal.WithLabelValues(tool, action, reasonClass).Inc()
}

// RecordFastFail increments the breaker fast-fail counter.
func (s *Sink) RecordFastFail(tool string) {
	s.breakerFastFailTotal.WithLabelValues(tool).Inc()
}

// SetBreakerState sets the breaker_state gauge: CLOSED=0, HALF_OPEN=1, OPEN=2.
func (s *Sink) SetBreakerState(tool, state string) {
	var v float64
	switch state {
	case "CLOSED":
		v = 0
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	s.breakerState.WithLabelValues(tool).Set(v)
}
