package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the one operation the gateway needs from a cache: atomically
// claim a key for a TTL. The replay filter uses it to dedupe request IDs.
type Cache interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// RedisCache claims keys in Redis so replay detection holds across
// gateway instances.
type RedisCache struct{ client *redis.Client }

func (c *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// MemoryCache is the single-instance fallback. It keeps only expiry
// times; claimed values are never read back.
type MemoryCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		expires: map[string]time.Time{},
		now:     time.Now,
	}
}

func (c *MemoryCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, exp := range c.expires {
		if !now.Before(exp) {
			delete(c.expires, k)
		}
	}
	if exp, ok := c.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.expires[key] = now.Add(ttl)
	return true, nil
}

// NewCache prefers Redis when a live client is available and otherwise
// degrades to the in-memory cache.
func NewCache(ctx context.Context, client *redis.Client) Cache {
	if client != nil && client.Ping(ctx).Err() == nil {
		return &RedisCache{client: client}
	}
	return NewMemoryCache()
}
