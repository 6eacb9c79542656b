// Package cache is a small JSON value cache on Redis used to keep repeated
// dashboard aggregations off Postgres. Values expire on TTL; mutations never
// wait on invalidation, so cached reads can lag committed state by up to one TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a redis client with a key namespace and TTL.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a cache. A zero ttl disables expiry, which callers should avoid
// for derived views.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "cache"
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(name string) string {
	return c.prefix + ":" + name
}

// Get unmarshals the cached value into dest. The second return is false on miss.
func (c *Cache) Get(ctx context.Context, name string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, c.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// Treat a corrupt entry as a miss so the caller recomputes.
		return false, nil
	}
	return true, nil
}

// Set stores value under name with the cache TTL.
func (c *Cache) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", name, err)
	}
	if err := c.client.Set(ctx, c.key(name), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", name, err)
	}
	return nil
}

// Invalidate drops a cached entry. Best effort; a failed delete just means
// the entry lives until TTL.
func (c *Cache) Invalidate(ctx context.Context, name string) error {
	return c.client.Del(ctx, c.key(name)).Err()
}
