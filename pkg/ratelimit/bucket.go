package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is the single-resource rate primitive. Refill is lazy: it
// happens on access, there is no background timer.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastUpdate time.Time
	now        func() time.Time
}

func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate < 0 {
		refillRate = 0
	}
	now := func() time.Time { return time.Now().UTC() }
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastUpdate: now(),
		now:        now,
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.lastUpdate = now
}

// TryConsume takes n tokens if available, leaving state unchanged when the
// bucket is short.
func (b *TokenBucket) TryConsume(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// ForceConsume subtracts unconditionally. Used for cost accounting where
// the charge is already incurred and may exceed the instantaneous budget.
func (b *TokenBucket) ForceConsume(n float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	b.tokens -= n
}

// TimeUntil reports how long until n tokens will be available, or zero.
// A bucket that never refills also reports zero: there is no finite wait
// worth advertising to the caller.
func (b *TokenBucket) TimeUntil(n float64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= n {
		return 0
	}
	if b.refillRate <= 0 {
		return 0
	}
	deficit := n - b.tokens
	return time.Duration(deficit / b.refillRate * float64(time.Second))
}

func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}
