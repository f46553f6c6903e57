package ratelimit

import (
	"testing"
	"time"
)

func TestTryConsume(t *testing.T) {
	b := NewTokenBucket(5, 0)
	for i := 0; i < 5; i++ {
		if !b.TryConsume(1) {
			t.Fatalf("consume %d must succeed", i+1)
		}
	}
	if b.TryConsume(1) {
		t.Fatalf("6th consume must fail on an empty bucket")
	}
	if b.Tokens() != 0 {
		t.Fatalf("rejected consume must leave state unchanged, got %f", b.Tokens())
	}
}

func TestLazyRefillCappedAtCapacity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	b := NewTokenBucket(10, 2)
	b.now = func() time.Time { return current }
	b.lastUpdate = current
	b.tokens = 0

	current = base.Add(3 * time.Second)
	if got := b.Tokens(); got != 6 {
		t.Fatalf("expected 6 tokens after 3s at 2/s, got %f", got)
	}
	current = base.Add(time.Hour)
	if got := b.Tokens(); got != 10 {
		t.Fatalf("refill must cap at capacity, got %f", got)
	}
}

func TestForceConsumeGoesNegative(t *testing.T) {
	b := NewTokenBucket(5, 0)
	b.ForceConsume(8)
	if got := b.Tokens(); got != -3 {
		t.Fatalf("force consume must subtract unconditionally, got %f", got)
	}
	if b.TryConsume(1) {
		t.Fatalf("overdrawn bucket must reject")
	}
}

func TestTimeUntilTokens(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(10, 2)
	b.now = func() time.Time { return base }
	b.lastUpdate = base
	if b.TimeUntil(5) != 0 {
		t.Fatalf("full bucket must report zero wait")
	}
	b.tokens = 1
	if got := b.TimeUntil(5); got != 2*time.Second {
		t.Fatalf("expected 2s wait for 4-token deficit at 2/s, got %v", got)
	}
	b.refillRate = 0
	if got := b.TimeUntil(5); got != 0 {
		t.Fatalf("zero-refill bucket must report zero, not a bogus wait, got %v", got)
	}
}
