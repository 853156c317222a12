package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dramapipe/internal/config"
)

const keyPrefix = "dramapipe:idem:"

// Cache remembers which idempotency keys have already produced a side effect,
// and the artifact handle that side effect yielded. It is an optimization
// layer over the providers' own idempotency handling: a cache miss never
// means the side effect did not happen, so executors still pass the key to
// the provider on every call.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects to Redis using the configured URI. A disabled cache
// (nil) is returned when the workflow has idempotency caching turned off.
func NewCache(cfg *config.Config) (*Cache, error) {
	if !cfg.Workflow.IdempotencyCacheOn {
		return nil, nil
	}
	opt, err := redis.ParseURL(cfg.Redis.URI)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	ttl := time.Duration(cfg.Workflow.IdempotencyTTLHours) * time.Hour
	return &Cache{rdb: redis.NewClient(opt), ttl: ttl}, nil
}

// NewCacheWithClient wraps an existing Redis client, used by tests.
func NewCacheWithClient(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Lookup returns the artifact recorded for a key, or "" when the key is
// unknown. Redis being unreachable degrades to a miss; the caller falls back
// to the provider's idempotency handling.
func (c *Cache) Lookup(ctx context.Context, key string) (string, bool) {
	if c == nil || c.rdb == nil {
		return "", false
	}
	value, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// Record stores the artifact produced under a key. First writer wins; a
// concurrent duplicate records nothing and that is fine, both executions
// produced the same artifact.
func (c *Cache) Record(ctx context.Context, key, artifact string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if strings.TrimSpace(artifact) == "" {
		return nil
	}
	if err := c.rdb.SetNX(ctx, keyPrefix+key, artifact, c.ttl).Err(); err != nil {
		return fmt.Errorf("record idempotency key: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection, used by health checks.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return errors.New("idempotency cache disabled")
	}
	return c.rdb.Ping(ctx).Err()
}
