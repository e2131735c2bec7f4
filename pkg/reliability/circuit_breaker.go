// Package reliability implements the gateway's reliability pipeline:
// per-tool circuit breaker with bulkhead concurrency control (this file),
// retry with backoff+jitter (retry.go), an LRU/TTL response cache
// (cache.go), and the pipeline that strings them together (pipeline.go).
package reliability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentineldev/agentgate/pkg/gwerrors"
	"github.com/sentineldev/agentgate/pkg/logging"
)

// CircuitState is the breaker's externally visible state.
type CircuitState string

const (
	StateClosed   CircuitState = "CLOSED"
	StateOpen     CircuitState = "OPEN"
	StateHalfOpen CircuitState = "HALF_OPEN"
)

// MetricsCollector receives circuit breaker telemetry. The gateway's
// composition root wires pkg/metrics.Sink here.
type MetricsCollector interface {
	RecordStateChange(tool string, from, to CircuitState)
	RecordFastFail(tool string)
}

type noopMetrics struct{}

func (noopMetrics) RecordStateChange(string, CircuitState, CircuitState) {}
func (noopMetrics) RecordFastFail(string)                                {}

// CircuitBreakerConfig configures one tool's breaker
type CircuitBreakerConfig struct {
	Tool                string
	FailureThreshold    int           // failures within WindowMs before CLOSED -> OPEN
	WindowMs            time.Duration // rolling window for counting failures
	OpenMs              time.Duration // how long OPEN waits before trying HALF_OPEN
	BulkheadConcurrency int           // concurrent in-flight ops permitted

	Logger  logging.Logger
	Metrics MetricsCollector
}

// DefaultCircuitBreakerConfig returns conservative production defaults.
func DefaultCircuitBreakerConfig(tool string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Tool:                tool,
		FailureThreshold:    5,
		WindowMs:            60 * time.Second,
		OpenMs:              30 * time.Second,
		BulkheadConcurrency: 10,
		Logger:              logging.NoOpLogger{},
		Metrics:             noopMetrics{},
	}
}

// failureRecord is one timestamped failure, kept only long enough to count
// toward the rolling window.
type failureRecord struct {
	at time.Time
}

// CircuitBreaker is one tool's breaker + bulkhead. All state mutation
// around a transition is serialised by mu, and admission reads state under
// the same lock, so concurrent callers never observe a torn transition.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failures        []failureRecord
	lastFailureTime time.Time
	lastStateChange time.Time
	halfOpenUsed    bool // only one trial permitted per HALF_OPEN period

	bulkhead chan struct{}

	successCount atomic.Int64
	failureCount atomic.Int64

	now func() time.Time
}

// NewCircuitBreaker builds a breaker for one tool.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = 60 * time.Second
	}
	if cfg.OpenMs <= 0 {
		cfg.OpenMs = 30 * time.Second
	}
	if cfg.BulkheadConcurrency <= 0 {
		cfg.BulkheadConcurrency = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &CircuitBreaker{
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
		bulkhead:        make(chan struct{}, cfg.BulkheadConcurrency),
		now:             time.Now,
	}
}

// State returns the breaker's current externally visible state, first
// applying the OPEN -> HALF_OPEN time-based transition if it is due.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.OpenMs {
		cb.transitionLocked(StateHalfOpen)
		cb.halfOpenUsed = false
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.lastStateChange = cb.now()
	cb.cfg.Logger.Info("circuit breaker state change", map[string]interface{}{
		"tool": cb.cfg.Tool, "from": string(from), "to": string(to),
	})
	cb.cfg.Metrics.RecordStateChange(cb.cfg.Tool, from, to)
}

// Execute runs fn under the breaker and bulkhead. It returns
// gwerrors.ErrCircuitOpen without calling fn if the breaker is OPEN, or if
// HALF_OPEN has already admitted its one trial this period.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, isTrial := cb.admit()
	if !allowed {
		cb.cfg.Metrics.RecordFastFail(cb.cfg.Tool)
		return fmt.Errorf("circuit breaker %q is open: %w", cb.cfg.Tool, gwerrors.ErrCircuitOpen)
	}

	select {
	case cb.bulkhead <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-cb.bulkhead }()

	err := fn(ctx)
	cb.report(err, isTrial)
	return err
}

// admit decides whether a new execution may start, and whether it is the
// single trial permitted while HALF_OPEN.
func (cb *CircuitBreaker) admit() (allowed bool, isTrial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()

	switch cb.state {
	case StateClosed:
		return true, false
	case StateHalfOpen:
		if cb.halfOpenUsed {
			return false, false
		}
		cb.halfOpenUsed = true
		return true, true
	default: // StateOpen
		return false, false
	}
}

// report records the outcome of an execution and applies the CLOSED/OPEN/
// HALF_OPEN transitions.
func (cb *CircuitBreaker) report(err error, wasTrial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.successCount.Add(1)
		if cb.state == StateHalfOpen && wasTrial {
			cb.transitionLocked(StateClosed)
			cb.failures = nil
		}
		return
	}

	cb.failureCount.Add(1)
	now := cb.now()
	cb.lastFailureTime = now

	if cb.state == StateHalfOpen && wasTrial {
		cb.transitionLocked(StateOpen)
		return
	}

	cb.failures = append(cb.failures, failureRecord{at: now})
	cb.pruneWindowLocked(now)

	if cb.state == StateClosed && len(cb.failures) >= cb.cfg.FailureThreshold {
		cb.transitionLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) pruneWindowLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.WindowMs)
	i := 0
	for ; i < len(cb.failures); i++ {
		if cb.failures[i].at.After(cutoff) {
			break
		}
	}
	cb.failures = cb.failures[i:]
}

// Snapshot returns the breaker's state for health/metrics reporting.
func (cb *CircuitBreaker) Snapshot() (state CircuitState, failureCount int, successCount int64, lastFailure, lastChange time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpenLocked()
	return cb.state, len(cb.failures), cb.successCount.Load(), cb.lastFailureTime, cb.lastStateChange
}

// Registry owns one CircuitBreaker per tool, created lazily on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	factory  func(tool string) CircuitBreakerConfig
}

// NewRegistry builds a registry that creates breakers via factory, called
// once per distinct tool name the gateway sees.
func NewRegistry(factory func(tool string) CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		factory:  factory,
	}
}

// Get returns (creating if necessary) the breaker for tool.
func (r *Registry) Get(tool string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[tool]; ok {
		return cb
	}
	cfg := r.factory(tool)
	cfg.Tool = tool
	cb := NewCircuitBreaker(cfg)
	r.breakers[tool] = cb
	return cb
}

// All returns a snapshot of every known breaker, for health reporting.
func (r *Registry) All() map[string]*CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}
