package trust

import (
	"encoding/json"
	"sync"
	"time"
)

// Level orders the trust ladder. There is deliberately no fully-trusted
// rung: Provisional is the ceiling.
type Level int

const (
	Hostile Level = iota
	Untrusted
	Suspicious
	Monitored
	Provisional
)

func (l Level) String() string {
	switch l {
	case Hostile:
		return "HOSTILE"
	case Untrusted:
		return "UNTRUSTED"
	case Suspicious:
		return "SUSPICIOUS"
	case Monitored:
		return "MONITORED"
	case Provisional:
		return "PROVISIONAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the level name; external consumers key off the
// string, not the ordinal.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// LevelForScore maps a score to its level band.
func LevelForScore(score float64) Level {
	switch {
	case score >= 80:
		return Provisional
	case score >= 60:
		return Monitored
	case score >= 40:
		return Suspicious
	case score >= 20:
		return Untrusted
	default:
		return Hostile
	}
}

const (
	MaxScore         = 100.0
	ViolationPenalty = 50.0
	HostileThreshold = 3
	DefaultDecayRate = 0.05 // fraction of score shed per hour
)

type Violation struct {
	At          time.Time `json:"at"`
	Description string    `json:"description"`
}

type PositiveAction struct {
	At     time.Time `json:"at"`
	Weight float64   `json:"weight"`
}

// State is one entity's standing. Everyone starts Hostile at zero; trust is
// earned, decays with time, and is forfeited permanently on the third
// violation.
type State struct {
	Entity             string           `json:"entity"`
	Level              Level            `json:"level"`
	Score              float64          `json:"score"`
	CreatedAt          time.Time        `json:"created_at"`
	LastUpdate         time.Time        `json:"last_update"`
	Violations         []Violation      `json:"violations"`
	Positives          []PositiveAction `json:"positives"`
	PermanentlyHostile bool             `json:"permanently_hostile"`
}

// System tracks trust per entity id. Decay applies on every read, not on a
// timer.
type System struct {
	mu        sync.RWMutex
	states    map[string]*State
	decayRate float64
	actions   map[string]Level
	now       func() time.Time
}

// DefaultActionLevels maps gateway actions to the minimum level required.
func DefaultActionLevels() map[string]Level {
	return map[string]Level{
		"query":     Untrusted,
		"session":   Suspicious,
		"configure": Monitored,
		"admin":     Provisional,
	}
}

func NewSystem() *System {
	return &System{
		states:    map[string]*State{},
		decayRate: DefaultDecayRate,
		actions:   DefaultActionLevels(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *System) SetDecayRate(rate float64) {
	if rate < 0 {
		return
	}
	s.mu.Lock()
	s.decayRate = rate
	s.mu.Unlock()
}

func (s *System) stateLocked(id string) *State {
	st, ok := s.states[id]
	if !ok {
		now := s.now()
		st = &State{
			Entity:     id,
			Level:      Hostile,
			Score:      0,
			CreatedAt:  now,
			LastUpdate: now,
		}
		s.states[id] = st
	}
	return st
}

// decayLocked sheds score linearly in the hours elapsed since the last
// update, floored at zero. Repeated reads compound. A permanently hostile
// entity is pinned at zero regardless.
func (s *System) decayLocked(st *State) {
	now := s.now()
	if st.PermanentlyHostile {
		st.Score = 0
		st.Level = Hostile
		st.LastUpdate = now
		return
	}
	elapsed := now.Sub(st.LastUpdate).Hours()
	if elapsed > 0 {
		st.Score *= 1 - s.decayRate*elapsed
		if st.Score < 0 {
			st.Score = 0
		}
		st.Level = LevelForScore(st.Score)
	}
	st.LastUpdate = now
}

// GetState lazily creates a Hostile/0 state and applies decay.
func (s *System) GetState(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	s.decayLocked(st)
	return snapshot(st)
}

// RecordPositive adds weight to the score, capped at MaxScore. A no-op
// forever once the entity is permanently hostile.
func (s *System) RecordPositive(id string, weight float64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	s.decayLocked(st)
	if st.PermanentlyHostile || weight <= 0 {
		return snapshot(st)
	}
	st.Positives = append(st.Positives, PositiveAction{At: s.now(), Weight: weight})
	st.Score += weight
	if st.Score > MaxScore {
		st.Score = MaxScore
	}
	st.Level = LevelForScore(st.Score)
	return snapshot(st)
}

// RecordViolation subtracts a flat penalty and, on the third cumulative
// violation, locks the entity Hostile for good. The lock is a one-way
// ratchet, not a recoverable condition.
func (s *System) RecordViolation(id, description string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateLocked(id)
	s.decayLocked(st)
	st.Violations = append(st.Violations, Violation{At: s.now(), Description: description})
	st.Score -= ViolationPenalty
	if st.Score < 0 {
		st.Score = 0
	}
	if len(st.Violations) >= HostileThreshold {
		st.PermanentlyHostile = true
		st.Score = 0
	}
	st.Level = LevelForScore(st.Score)
	if st.PermanentlyHostile {
		st.Level = Hostile
	}
	return snapshot(st)
}

// IsAllowed compares the entity's current level against the level the
// action requires. Unknown actions require the ceiling.
func (s *System) IsAllowed(id, action string) bool {
	required, ok := s.actions[action]
	if !ok {
		required = Provisional
	}
	return s.GetState(id).Level >= required
}

func snapshot(st *State) State {
	out := *st
	out.Violations = append([]Violation(nil), st.Violations...)
	out.Positives = append([]PositiveAction(nil), st.Positives...)
	return out
}
