package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements the lazy-refill bucket atomically on the
// Redis side. State per key: tokens (float) and ts (ms). force=1 subtracts
// unconditionally for post-hoc cost accounting.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local cap = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local n = tonumber(ARGV[4])
local force = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])
local vals = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(vals[1])
local ts = tonumber(vals[2])
if tokens == nil then
  tokens = cap
  ts = now
end
local elapsed = (now - ts) / 1000.0
if elapsed > 0 then
  tokens = tokens + elapsed * rate
  if tokens > cap then
    tokens = cap
  end
end
local allowed = 0
if force == 1 then
  tokens = tokens - n
  allowed = 1
elseif tokens >= n then
  tokens = tokens - n
  allowed = 1
end
redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl)
return {allowed, tostring(tokens)}
`)

// RedisLimiter shares bucket state across gateway instances. Any Redis
// failure degrades to the in-memory fallback rather than refusing traffic.
type RedisLimiter struct {
	Client   *redis.Client
	Prefix   string
	Fallback *Limiter

	mu    sync.Mutex
	stats Stats
	now   func() time.Time
}

func NewRedisLimiter(client *redis.Client, layers []LayerConfig) *RedisLimiter {
	return &RedisLimiter{
		Client:   client,
		Prefix:   "rl:",
		Fallback: NewLimiter(layers),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *RedisLimiter) layers() []LayerConfig {
	return l.Fallback.layers
}

func (l *RedisLimiter) consume(cfg LayerConfig, key string, n float64, force bool) (bool, float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	forceArg := 0
	if force {
		forceArg = 1
	}
	res, err := tokenBucketScript.Run(ctx, l.Client,
		[]string{l.Prefix + cfg.Name + "|" + key},
		cfg.Capacity, cfg.RefillRate, l.now().UnixMilli(), n, forceArg, int64(time.Hour/time.Millisecond),
	).Result()
	if err != nil {
		return false, 0, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return false, 0, redis.Nil
	}
	allowed, _ := vals[0].(int64)
	remaining := 0.0
	if s, ok := vals[1].(string); ok {
		remaining, _ = strconv.ParseFloat(s, 64)
	}
	return allowed == 1, remaining, nil
}

func (l *RedisLimiter) Check(rc Context) Decision {
	if l.Client == nil {
		return l.Fallback.Check(rc)
	}
	for _, cfg := range l.layers() {
		key := BucketKey(cfg.Name, rc)
		allowed, remaining, err := l.consume(cfg, key, 1, false)
		if err != nil {
			return l.Fallback.Check(rc)
		}
		if !allowed {
			l.mu.Lock()
			l.stats.Rejected++
			l.mu.Unlock()
			return Decision{
				Allowed:    false,
				Layer:      cfg.Name,
				Key:        key,
				RetryAfter: retryAfter(cfg.RefillRate, 1-remaining),
			}
		}
	}
	l.mu.Lock()
	l.stats.Allowed++
	l.mu.Unlock()
	return Decision{Allowed: true}
}

func (l *RedisLimiter) RecordUsage(rc Context, tokens int, cost float64) {
	if l.Client == nil {
		l.Fallback.RecordUsage(rc, tokens, cost)
		return
	}
	cfg := l.Fallback.costLayer()
	if _, _, err := l.consume(cfg, costKey(rc), cost, true); err != nil {
		l.Fallback.RecordUsage(rc, tokens, cost)
		return
	}
	l.mu.Lock()
	l.stats.TotalTokens += uint64(tokens)
	l.stats.TotalCost += cost
	l.mu.Unlock()
}

// Stats folds in the fallback's counters so traffic admitted during a
// Redis outage still shows up in the snapshot.
func (l *RedisLimiter) Stats() Stats {
	l.mu.Lock()
	out := l.stats
	l.mu.Unlock()
	fb := l.Fallback.Stats()
	out.Allowed += fb.Allowed
	out.Rejected += fb.Rejected
	out.TotalTokens += fb.TotalTokens
	out.TotalCost += fb.TotalCost
	return out
}

// retryAfter mirrors TokenBucket.TimeUntil: zero both when no wait is
// needed and when the layer never refills.
func retryAfter(rate, deficit float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	if deficit < 0 {
		deficit = 0
	}
	return time.Duration(deficit / rate * float64(time.Second))
}
