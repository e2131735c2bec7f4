package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentineldev/agentgate/pkg/gwerrors"
	"github.com/sentineldev/agentgate/pkg/logging"
)

// Tool is one invocable external tool adapter (web search, HTTP fetch, LLM
// provider, email...). Invoke performs the actual side-effecting call;
// CacheKey builds this invocation's cache key, or returns ok=false for
// actions that must never be cached (e.g. email.send).
type Tool interface {
	Name() string
	Invoke(ctx context.Context, action string, params map[string]interface{}) (interface{}, error)
	CacheKey(action string, params map[string]interface{}) (key string, ttl time.Duration, ok bool)
}

// Pipeline strings Cache -> CircuitBreaker -> Bulkhead -> Retry together
// flow diagram, for one gateway-wide set of tools.
type Pipeline struct {
	cache     CacheStore
	breakers  *Registry
	retryCfg  func(tool string) RetryConfig
	logger    logging.Logger
}

// PipelineConfig wires a Pipeline's dependencies. Cache may be a local
// *Cache or a *RedisCache — anything satisfying CacheStore.
type PipelineConfig struct {
	Cache         CacheStore
	Breakers      *Registry
	RetryConfigFn func(tool string) RetryConfig // per-tool retry config; nil => DefaultRetryConfig()
	Logger        logging.Logger
}

// NewPipeline builds a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.RetryConfigFn == nil {
		cfg.RetryConfigFn = func(string) RetryConfig { return DefaultRetryConfig() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Pipeline{
		cache:    cfg.Cache,
		breakers: cfg.Breakers,
		retryCfg: cfg.RetryConfigFn,
		logger:   cfg.Logger,
	}
}

// Execute runs one tool invocation through cache lookup, the circuit
// breaker + bulkhead, and the retry loop, storing the result in the cache
// on success when the tool allows caching for this action.
func (p *Pipeline) Execute(ctx context.Context, tool Tool, action string, params map[string]interface{}) (interface{}, error) {
	name := tool.Name()

	cacheKey, ttl, cacheable := tool.CacheKey(action, params)
	if cacheable && p.cache != nil {
		if v, hit := p.cache.Get(cacheKey, name, action); hit {
			return v, nil
		}
	}

	breaker := p.breakers.Get(name)
	retryPolicy := NewRetryPolicy(p.retryCfg(name))

	var result interface{}
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return retryPolicy.Execute(ctx, name, action, func(ctx context.Context) error {
			v, err := tool.Invoke(ctx, action, params)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
	})
	if err != nil {
		return nil, p.classify(name, action, err)
	}

	if cacheable && p.cache != nil {
		p.cache.Set(cacheKey, result, ttl)
	}
	return result, nil
}

// classify maps a pipeline failure onto a GatewayError with the right Kind,
// distinguishing a fast-failed breaker from an exhausted retry loop from a
// plain upstream error.
func (p *Pipeline) classify(tool, action string, err error) error {
	op := fmt.Sprintf("%s.%s", tool, action)
	switch {
	case errors.Is(err, gwerrors.ErrCircuitOpen):
		return gwerrors.New(op, gwerrors.CircuitOpen, err)
	case errors.Is(err, gwerrors.ErrMaxRetriesExceeded):
		return gwerrors.Classify(op, err, true, true)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, gwerrors.ErrTimeout):
		return gwerrors.New(op, gwerrors.Timeout, err)
	case errors.Is(err, context.Canceled):
		return gwerrors.New(op, gwerrors.Internal, err)
	default:
		reason := Classify(err)
		return gwerrors.Classify(op, err, reason.Retryable(), false)
	}
}
