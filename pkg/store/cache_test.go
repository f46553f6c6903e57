package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryCacheSetNX(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "req-1", "", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim must win: ok=%v err=%v", ok, err)
	}
	ok, err = c.SetNX(ctx, "req-1", "", time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}
	if ok, _ := c.SetNX(ctx, "req-2", "", time.Minute); !ok {
		t.Fatal("distinct key must claim independently")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	c := NewMemoryCache()
	c.now = func() time.Time { return current }
	ctx := context.Background()

	if ok, _ := c.SetNX(ctx, "req-1", "", time.Minute); !ok {
		t.Fatal("first claim must win")
	}
	current = base.Add(30 * time.Second)
	if ok, _ := c.SetNX(ctx, "req-1", "", time.Minute); ok {
		t.Fatal("claim must hold until the TTL elapses")
	}
	current = base.Add(2 * time.Minute)
	if ok, _ := c.SetNX(ctx, "req-1", "", time.Minute); !ok {
		t.Fatal("expired key must be claimable again")
	}
	if len(c.expires) != 1 {
		t.Fatalf("stale entries must be swept, have %d", len(c.expires))
	}
}

func TestRedisCacheSetNX(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := &RedisCache{client: client}
	ctx := context.Background()

	if ok, err := c.SetNX(ctx, "req-1", "x", time.Minute); err != nil || !ok {
		t.Fatalf("first claim must win: ok=%v err=%v", ok, err)
	}
	if ok, err := c.SetNX(ctx, "req-1", "x", time.Minute); err != nil || ok {
		t.Fatalf("second claim must lose: ok=%v err=%v", ok, err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, err := c.SetNX(ctx, "req-1", "x", time.Minute); err != nil || !ok {
		t.Fatalf("expired key must be claimable again: ok=%v err=%v", ok, err)
	}
}

func TestNewCacheSelection(t *testing.T) {
	ctx := context.Background()

	if _, ok := NewCache(ctx, nil).(*MemoryCache); !ok {
		t.Fatal("nil client must yield the memory cache")
	}

	dead := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 5 * time.Millisecond,
		MaxRetries:  0,
	})
	defer dead.Close()
	if _, ok := NewCache(ctx, dead).(*MemoryCache); !ok {
		t.Fatal("unreachable redis must yield the memory cache")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	live := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer live.Close()
	if _, ok := NewCache(ctx, live).(*RedisCache); !ok {
		t.Fatal("live redis must yield the redis cache")
	}
}
