package ratelimit

import (
	"testing"
	"time"
)

func testLayers() []LayerConfig {
	return []LayerConfig{
		{Name: LayerGlobal, Capacity: 100, RefillRate: 0},
		{Name: LayerPerProvider, Capacity: 100, RefillRate: 0},
		{Name: LayerPerAuthToken, Capacity: 100, RefillRate: 0},
		{Name: LayerPerSession, Capacity: 5, RefillRate: 0},
		{Name: LayerCostBased, Capacity: 100, RefillRate: 0},
	}
}

func TestMonotoneAdmission(t *testing.T) {
	l := NewLimiter(testLayers())
	rc := Context{Provider: "local", AuthToken: "t1", SessionID: "s1"}
	for i := 0; i < 5; i++ {
		d := l.Check(rc)
		if !d.Allowed {
			t.Fatalf("check %d must be allowed, rejected at %s", i+1, d.Layer)
		}
	}
	d := l.Check(rc)
	if d.Allowed {
		t.Fatalf("6th check must be rejected")
	}
	if d.Layer != LayerPerSession || d.Key != "session:s1" {
		t.Fatalf("rejection must name the exhausted layer, got %+v", d)
	}
	stats := l.Stats()
	if stats.Allowed != 5 || stats.Rejected != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAdmissionRecoversAfterRefill(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	layers := testLayers()
	layers[3].Capacity = 1
	layers[3].RefillRate = 2 // one token every 500ms
	l := NewLimiter(layers)
	l.now = func() time.Time { return current }

	rc := Context{SessionID: "s1"}
	if d := l.Check(rc); !d.Allowed {
		t.Fatalf("first check must pass")
	}
	d := l.Check(rc)
	if d.Allowed {
		t.Fatalf("second immediate check must fail")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 500*time.Millisecond {
		t.Fatalf("retry_after must be within one refill interval, got %v", d.RetryAfter)
	}
	current = base.Add(600 * time.Millisecond)
	if d := l.Check(rc); !d.Allowed {
		t.Fatalf("check after refill interval must pass")
	}
}

func TestNoRefundAcrossLayers(t *testing.T) {
	layers := testLayers()
	layers[0].Capacity = 3 // global drains even when a later layer rejects
	layers[3].Capacity = 1
	l := NewLimiter(layers)

	if d := l.Check(Context{SessionID: "s1"}); !d.Allowed {
		t.Fatalf("first check must pass")
	}
	if d := l.Check(Context{SessionID: "s1"}); d.Allowed || d.Layer != LayerPerSession {
		t.Fatalf("second check must reject at per_session, got %+v", d)
	}
	// Two global tokens are spent; only one remains for a fresh session.
	if d := l.Check(Context{SessionID: "s2"}); !d.Allowed {
		t.Fatalf("fresh session must still pass")
	}
	if d := l.Check(Context{SessionID: "s3"}); d.Allowed || d.Layer != LayerGlobal {
		t.Fatalf("global budget must be spent by earlier rejected checks, got %+v", d)
	}
}

func TestLayerOrderShortCircuits(t *testing.T) {
	layers := testLayers()
	layers[0].Capacity = 1
	layers[3].Capacity = 1
	l := NewLimiter(layers)
	l.Check(Context{SessionID: "s1"})
	d := l.Check(Context{SessionID: "s1"})
	if d.Layer != LayerGlobal {
		t.Fatalf("first exhausted layer in declaration order must reject, got %s", d.Layer)
	}
}

func TestRecordUsage(t *testing.T) {
	l := NewLimiter(testLayers())
	rc := Context{AuthToken: "t1", SessionID: "s1"}
	l.RecordUsage(rc, 500, 130)
	stats := l.Stats()
	if stats.TotalTokens != 500 || stats.TotalCost != 130 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	// Cost is force-consumed: the dedicated bucket may go negative without
	// affecting admission layers other than cost_based.
	b := l.buckets[LayerCostBased+"|cost:t1:s1"]
	if b == nil {
		t.Fatalf("cost bucket must exist")
	}
	if got := b.Tokens(); got != -30 {
		t.Fatalf("cost bucket must be overdrawn by 30, got %f", got)
	}
}

func TestBucketKeyDerivation(t *testing.T) {
	rc := Context{}
	if BucketKey(LayerPerAuthToken, rc) != "token:anonymous" {
		t.Fatalf("missing auth token must key as anonymous")
	}
	if BucketKey(LayerPerSession, rc) != "session:none" {
		t.Fatalf("missing session must key as none")
	}
	if BucketKey(LayerPerProvider, Context{Provider: "local"}) != "provider:local" {
		t.Fatalf("provider key mismatch")
	}
	if BucketKey(LayerCostBased, Context{AuthToken: "t", SessionID: "s"}) != "cost:t:s" {
		t.Fatalf("cost key mismatch")
	}
}
