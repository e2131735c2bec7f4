package reliability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore is the contract both the local LRU/TTL Cache and RedisCache
// satisfy, so Pipeline can run against either a single-process cache or a
// shared one without branching on backend.
type CacheStore interface {
	Get(key, tool, action string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
}

var (
	_ CacheStore = (*Cache)(nil)
	_ CacheStore = (*RedisCache)(nil)
)

// RedisCache is a shared, cross-replica alternative to the in-process LRU
// cache.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
	metrics    CacheMetricsCollector
}

// RedisCacheConfig configures a RedisCache.
type RedisCacheConfig struct {
	Client     *redis.Client
	Prefix     string
	DefaultTTL time.Duration
	Metrics    CacheMetricsCollector
}

// NewRedisCache builds a RedisCache from cfg.
func NewRedisCache(cfg RedisCacheConfig) *RedisCache {
	if cfg.Prefix == "" {
		cfg.Prefix = "agentgate:cache:"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 60 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopCacheMetrics{}
	}
	return &RedisCache{
		client:     cfg.Client,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
		metrics:    cfg.Metrics,
	}
}

type redisCacheEnvelope struct {
	Value interface{} `json:"value"`
}

// Get fetches key from Redis, degrading to a miss on any Redis error
// (connectivity loss must never fail the underlying tool call).
func (c *RedisCache) Get(key, tool, action string) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return nil, false
	}
	var env redisCacheEnvelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, false
	}
	c.metrics.RecordCacheHit(tool, action)
	return env.Value, true
}

// Set stores value under key with ttl (0 means defaultTTL), degrading
// silently on Redis errors.
func (c *RedisCache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	data, err := json.Marshal(redisCacheEnvelope{Value: value})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

// Ping checks Redis connectivity. No health check in the gateway calls it.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis cache: %w", err)
	}
	return nil
}
