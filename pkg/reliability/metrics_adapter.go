package reliability

import "github.com/sentineldev/agentgate/pkg/metrics"

// PrometheusMetrics adapts pkg/metrics.Sink to the CircuitBreaker's and
// RetryPolicy's metrics interfaces, so the composition root can wire one
// concrete Sink everywhere instead of hand-writing adapters per subsystem.
type PrometheusMetrics struct {
	sink *metrics.Sink
}

// NewPrometheusMetrics wraps sink for use as both MetricsCollector and
// RetryMetricsCollector.
func NewPrometheusMetrics(sink *metrics.Sink) *PrometheusMetrics {
	return &PrometheusMetrics{sink: sink}
}

func (m *PrometheusMetrics) RecordStateChange(tool string, _, to CircuitState) {
	m.sink.SetBreakerState(tool, string(to))
}

func (m *PrometheusMetrics) RecordFastFail(tool string) {
	m.sink.RecordFastFail(tool)
}

func (m *PrometheusMetrics) RecordRetry(tool, action, reasonClass string) {
	m.sink.RecordRetry(tool, action, reasonClass)
}

var (
	_ MetricsCollector      = (*PrometheusMetrics)(nil)
	_ RetryMetricsCollector = (*PrometheusMetrics)(nil)
)
