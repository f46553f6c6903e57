package trust

import (
	"math"
	"testing"
	"time"
)

func newTestSystem(start time.Time) (*System, *time.Time) {
	s := NewSystem()
	current := start
	s.now = func() time.Time { return current }
	return s, &current
}

func TestLazyCreationStartsHostile(t *testing.T) {
	s := NewSystem()
	st := s.GetState("new-entity")
	if st.Level != Hostile || st.Score != 0 {
		t.Fatalf("new entities must start Hostile/0, got %s/%f", st.Level, st.Score)
	}
	if st.PermanentlyHostile {
		t.Fatalf("fresh state must not be permanently hostile")
	}
}

func TestLevelThresholds(t *testing.T) {
	cases := []struct {
		score float64
		want  Level
	}{
		{0, Hostile}, {19.9, Hostile},
		{20, Untrusted}, {39.9, Untrusted},
		{40, Suspicious}, {59.9, Suspicious},
		{60, Monitored}, {79.9, Monitored},
		{80, Provisional}, {100, Provisional},
	}
	for _, c := range cases {
		if got := LevelForScore(c.score); got != c.want {
			t.Fatalf("LevelForScore(%f) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestRecordPositiveCapped(t *testing.T) {
	s, _ := newTestSystem(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.RecordPositive("e", 70)
	st := s.RecordPositive("e", 70)
	if st.Score != MaxScore {
		t.Fatalf("score must cap at %f, got %f", MaxScore, st.Score)
	}
	if st.Level != Provisional {
		t.Fatalf("capped score must sit at the Provisional ceiling, got %s", st.Level)
	}
	if len(st.Positives) != 2 {
		t.Fatalf("positive actions must be tracked")
	}
}

func TestDecayMonotone(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, current := newTestSystem(base)
	s.RecordPositive("e", 50)

	*current = base.Add(10 * time.Hour)
	st := s.GetState("e")
	bound := 50 * math.Pow(1-DefaultDecayRate, 10)
	if st.Score > bound+1e-9 {
		t.Fatalf("decayed score %f exceeds compounded bound %f", st.Score, bound)
	}
	if st.Score < 0 {
		t.Fatalf("score must never go negative")
	}

	*current = base.Add(10000 * time.Hour)
	if st := s.GetState("e"); st.Score != 0 {
		t.Fatalf("long decay must floor at zero, got %f", st.Score)
	}
}

func TestViolationPenalty(t *testing.T) {
	s, _ := newTestSystem(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.RecordPositive("e", 100)
	st := s.RecordViolation("e", "prompt injection attempt")
	if st.Score != 50 {
		t.Fatalf("violation must subtract a flat %f, got score %f", ViolationPenalty, st.Score)
	}
	if st.Level != Suspicious {
		t.Fatalf("level must recompute after penalty, got %s", st.Level)
	}
}

func TestHostileRatchetIrreversible(t *testing.T) {
	s, _ := newTestSystem(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.RecordViolation("e", "first")
	s.RecordViolation("e", "second")
	st := s.RecordViolation("e", "third")
	if !st.PermanentlyHostile || st.Level != Hostile || st.Score != 0 {
		t.Fatalf("third violation must lock hostile: %+v", st)
	}

	st = s.RecordPositive("e", 1e9)
	if st.Level != Hostile || st.Score != 0 {
		t.Fatalf("positive actions after the lock must be no-ops: %+v", st)
	}
	if !s.GetState("e").PermanentlyHostile {
		t.Fatalf("the hostile lock must persist across reads")
	}
}

func TestIsAllowed(t *testing.T) {
	s, _ := newTestSystem(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if s.IsAllowed("e", "query") {
		t.Fatalf("hostile entity must not query")
	}
	s.RecordPositive("e", 45)
	if !s.IsAllowed("e", "query") {
		t.Fatalf("untrusted+ entity must query")
	}
	if !s.IsAllowed("e", "session") {
		t.Fatalf("suspicious entity must open sessions")
	}
	if s.IsAllowed("e", "admin") {
		t.Fatalf("admin requires the provisional ceiling")
	}
	if s.IsAllowed("e", "unknown-action") {
		t.Fatalf("unknown actions must require the ceiling")
	}
	s.RecordPositive("e", 55)
	if !s.IsAllowed("e", "admin") {
		t.Fatalf("provisional entity must pass admin")
	}
}
