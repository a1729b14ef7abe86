// Package cache wraps the Redis client used for read-path balance caching.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New creates a new Redis client.
func New(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}

// Cache stores JSON-encoded values with a TTL. A nil *Cache is a no-op so
// callers do not need to guard every lookup.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps client with the given default TTL.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl}
}

// Get unmarshals the cached value into target. The second return reports
// whether the key was present.
func (c *Cache) Get(ctx context.Context, key string, target any) (bool, error) {
	if c == nil {
		return false, nil
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("platform/cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, fmt.Errorf("platform/cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("platform/cache: encode %s: %w", key, err)
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Invalidate drops keys after a write so the next read refills them.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
