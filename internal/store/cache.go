package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "facetrack:cache:"

// Cache stores serialized query responses in Redis. Historical weeks are
// immutable and safe to cache for a long time; queries touching today get
// a short TTL because new events can still arrive.
type Cache struct {
	client *redis.Client
}

// NewCache creates a cache.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached payload for key, or nil on a miss. Redis being
// down degrades to a miss; the caller recomputes.
func (c *Cache) Get(ctx context.Context, key string) []byte {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil
		}
		return nil
	}
	return data
}

// Set stores payload under key for ttl. Failures are ignored; the cache
// is an optimization, never a source of truth.
func (c *Cache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if c == nil || c.client == nil || ttl <= 0 {
		return
	}
	_ = c.client.Set(ctx, cachePrefix+key, payload, ttl).Err()
}
