package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/pkg/logging"
	"go.opentelemetry.io/otel"
)

var cacheTracer = otel.Tracer("medicare.internal.cache")

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache is the key/value collaborator. Values are opaque serialized snapshots.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RedisCache implements Cache on go-redis.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps a redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	if client == nil {
		panic("cache: redis client required")
	}
	return &RedisCache{client: client}
}

// Get returns ErrMiss for absent keys.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return data, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// ReadThrough bundles the cache with the logger and metrics its readers share.
// A nil ReadThrough, or one with a nil Cache, always loads from the store.
type ReadThrough struct {
	cache   Cache
	logger  *logging.Logger
	metrics *metrics.CacheMetrics
}

func NewReadThrough(c Cache, logger *logging.Logger, m *metrics.CacheMetrics) *ReadThrough {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReadThrough{cache: c, logger: logger.Component("cache"), metrics: m}
}

// Invalidate deletes keys, logging failures instead of returning them.
func (rt *ReadThrough) Invalidate(ctx context.Context, keys ...string) {
	if rt == nil || rt.cache == nil || len(keys) == 0 {
		return
	}
	if err := rt.cache.Delete(ctx, keys...); err != nil {
		rt.logger.Warn("cache invalidation failed", "keys", keys, "error", err)
	}
}

// Fetch returns the cached snapshot for key, or runs load and caches its result
// for ttl. Cache failures never fail the read.
func Fetch[T any](ctx context.Context, rt *ReadThrough, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if rt == nil || rt.cache == nil {
		return load(ctx)
	}
	ctx, span := cacheTracer.Start(ctx, "cache.fetch")
	defer span.End()
	ns := Namespace(key)

	data, err := rt.cache.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		decodeErr := json.Unmarshal(data, &v)
		if decodeErr == nil {
			rt.metrics.ObserveLookup(ns, "hit")
			return v, nil
		}
		rt.logger.Warn("cache entry undecodable, reloading", "key", key, "error", decodeErr)
		rt.metrics.ObserveLookup(ns, "error")
	case errors.Is(err, ErrMiss):
		rt.metrics.ObserveLookup(ns, "miss")
	default:
		span.RecordError(err)
		rt.logger.Warn("cache read failed, using store", "key", key, "error", err)
		rt.metrics.ObserveLookup(ns, "error")
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		rt.logger.Warn("cache encode failed", "key", key, "error", err)
		return v, nil
	}
	if err := rt.cache.Set(ctx, key, payload, ttl); err != nil {
		span.RecordError(err)
		rt.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return v, nil
}
