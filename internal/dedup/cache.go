// Package dedup guards against duplicate forwards of the same message.
//
// Providers deliver webhooks at-least-once, so the same notification can
// arrive twice within seconds. A hit here short-circuits the pipeline to a
// "duplicate, already handled" result with no new network call. Entries
// are TTL-bounded; loss on restart is acceptable because downstream
// idempotency is a backstop, not the sole correctness guarantee.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the duplicate-forward guard.
// Mark is only called after a successful forward; Seen is checked before
// any forward is attempted.
type Cache interface {
	// Seen reports whether key was marked within the TTL window.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key for the TTL window.
	Mark(ctx context.Context, key string) error
}

// New creates a dedup cache using the best available backend.
// If redisClient is non-nil, entries live in Redis (shared across
// replicas). Otherwise an owned in-process cache is used.
func New(redisClient *redis.Client, ttl time.Duration) Cache {
	if redisClient != nil {
		return NewRedisCache(redisClient, ttl)
	}
	return NewMemoryCache(ttl)
}

// =============================================================================
// Redis-backed cache
// =============================================================================

// RedisCache stores dedup entries as Redis keys with a TTL; expiry is the
// sweep, so no background task is needed.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed dedup cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(key string) string {
	return fmt.Sprintf("dedup:%s", key)
}

// Seen reports whether key was marked within the TTL window.
func (c *RedisCache) Seen(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: checking %s: %w", key, err)
	}
	return n > 0, nil
}

// Mark records key for the TTL window.
func (c *RedisCache) Mark(ctx context.Context, key string) error {
	if err := c.client.Set(ctx, c.key(key), 1, c.ttl).Err(); err != nil {
		return fmt.Errorf("dedup: marking %s: %w", key, err)
	}
	return nil
}
