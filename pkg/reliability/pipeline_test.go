package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentineldev/agentgate/pkg/gwerrors"
)

type fakeTool struct {
	name       string
	invokeFn   func(action string, params map[string]interface{}) (interface{}, error)
	cacheable  bool
	cacheTTL   time.Duration
	invocations int
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Invoke(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	f.invocations++
	return f.invokeFn(action, params)
}

func (f *fakeTool) CacheKey(action string, params map[string]interface{}) (string, time.Duration, bool) {
	if !f.cacheable {
		return "", 0, false
	}
	return f.name + "." + action, f.cacheTTL, true
}

func newPipelineForTest(cache CacheStore) *Pipeline {
	return NewPipeline(PipelineConfig{
		Cache:    cache,
		Breakers: NewRegistry(func(tool string) CircuitBreakerConfig { return DefaultCircuitBreakerConfig(tool) }),
		RetryConfigFn: func(string) RetryConfig {
			return RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, RandFloat: func() float64 { return 0 }}
		},
	})
}

// TestPipelineCachesSuccessfulCacheableResult checks a cacheable action is
// stored on success and served from cache on the next call without a second
// upstream invocation.
func TestPipelineCachesSuccessfulCacheableResult(t *testing.T) {
	cache := NewCache(CacheConfig{Capacity: 10, Enabled: true})
	tool := &fakeTool{
		name:      "search",
		cacheable: true,
		invokeFn: func(action string, params map[string]interface{}) (interface{}, error) {
			return "result", nil
		},
	}
	p := newPipelineForTest(cache)

	v1, err := p.Execute(context.Background(), tool, "query", nil)
	if err != nil || v1 != "result" {
		t.Fatalf("first Execute = (%v, %v)", v1, err)
	}
	v2, err := p.Execute(context.Background(), tool, "query", nil)
	if err != nil || v2 != "result" {
		t.Fatalf("second Execute = (%v, %v)", v2, err)
	}
	if tool.invocations != 1 {
		t.Fatalf("upstream invoked %d times, want 1 (second call should be a cache hit)", tool.invocations)
	}
}

// TestPipelineNonCacheableActionAlwaysInvokes checks an action reporting
// ok=false from CacheKey (e.g. email.send) bypasses the cache entirely.
func TestPipelineNonCacheableActionAlwaysInvokes(t *testing.T) {
	cache := NewCache(CacheConfig{Capacity: 10, Enabled: true})
	tool := &fakeTool{
		name:      "email",
		cacheable: false,
		invokeFn: func(action string, params map[string]interface{}) (interface{}, error) {
			return "sent", nil
		},
	}
	p := newPipelineForTest(cache)

	_, _ = p.Execute(context.Background(), tool, "send", nil)
	_, _ = p.Execute(context.Background(), tool, "send", nil)
	if tool.invocations != 2 {
		t.Fatalf("upstream invoked %d times, want 2 (non-cacheable action)", tool.invocations)
	}
}

// TestPipelineClassifiesCircuitOpenError checks a breaker tripped by prior
// failures surfaces as gwerrors.CircuitOpen rather than a raw error.
func TestPipelineClassifiesCircuitOpenError(t *testing.T) {
	breakers := NewRegistry(func(tool string) CircuitBreakerConfig {
		cfg := DefaultCircuitBreakerConfig(tool)
		cfg.FailureThreshold = 1
		return cfg
	})
	p := NewPipeline(PipelineConfig{
		Breakers: breakers,
		RetryConfigFn: func(string) RetryConfig {
			return RetryConfig{MaxRetries: 0, RandFloat: func() float64 { return 0 }}
		},
	})
	tool := &fakeTool{
		name: "search",
		invokeFn: func(action string, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("upstream down")
		},
	}

	// First call trips the breaker (threshold 1).
	_, _ = p.Execute(context.Background(), tool, "query", nil)

	_, err := p.Execute(context.Background(), tool, "query", nil)
	var gwErr *gwerrors.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != gwerrors.CircuitOpen {
		t.Fatalf("err = %v, want a GatewayError with Kind=CircuitOpen", err)
	}
}
