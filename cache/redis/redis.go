// Package redis implements cache.Cache on Redis using go-redis/v9.
// Outcomes are stored as JSON strings with a TTL; rate-limit counters
// use INCR with EXPIRE NX so the window starts at the first hit.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	c := rediscache.New(client)
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainworks/steward/cache"
	"github.com/chainworks/steward/outcome"
)

// Compile-time interface check.
var _ cache.Cache = (*Cache)(nil)

// Redis key naming. All keys are prefixed with "steward:" to avoid
// collisions with other tenants of the same Redis.
const keyPrefix = "steward:"

func outcomeKey(key string) string { return keyPrefix + "idem:" + key }

func counterKey(key string) string { return keyPrefix + "rate:" + key }

// Cache implements cache.Cache backed by Redis.
type Cache struct {
	client redis.Cmdable
}

// New creates a Redis-backed cache. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable) *Cache {
	return &Cache{client: client}
}

// Client returns the underlying Redis client.
func (c *Cache) Client() redis.Cmdable { return c.client }

// Ping verifies the Redis connection is alive.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetOutcome returns the mirrored outcome for an idempotency key,
// or nil on miss.
func (c *Cache) GetOutcome(ctx context.Context, key string) (*outcome.Outcome, error) {
	data, err := c.client.Get(ctx, outcomeKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("steward/cache: get %q: %w", key, err)
	}

	var out outcome.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		// A corrupt mirror is a miss; the durable store is authoritative.
		return nil, nil
	}
	return &out, nil
}

// SetOutcome mirrors a terminal outcome with the given TTL.
func (c *Cache) SetOutcome(ctx context.Context, key string, out *outcome.Outcome, ttl time.Duration) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("steward/cache: marshal outcome for %q: %w", key, err)
	}
	if err := c.client.Set(ctx, outcomeKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("steward/cache: set %q: %w", key, err)
	}
	return nil
}

// Incr increments a windowed rate-limit counter and returns the new value.
func (c *Cache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := counterKey(key)

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("steward/cache: incr %q: %w", key, err)
	}
	return incr.Val(), nil
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (c *Cache) Close() error { return nil }
