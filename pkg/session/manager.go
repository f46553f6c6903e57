package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/models"
)

const DefaultTimeout = 3600 * time.Second

// Manager owns all live sessions. Calls for distinct sessions proceed in
// parallel; interaction order within one session is whatever order the
// caller delivers, so all of one session's requests must flow through one
// logical handler.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions: map[string]*Session{},
		timeout:  DefaultTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.timeout = d
	m.mu.Unlock()
}

// Create starts a new Active session anchored at the supplied block, or at
// the zero placeholder when anchor is nil.
func (m *Manager) Create(anchor *models.BTCAnchor) *Session {
	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		State:        Active,
		CreatedAt:    now,
		LastActivity: now,
		StartAnchor:  anchor,
	}
	s.ChainHash = s.genesisHash()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns a copy of the session so callers cannot mutate chain state.
func (m *Manager) Get(id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return snapshot(s), nil
}

// RecordInteraction appends one prompt/response link to the session chain.
// Recording against a terminal session is a caller logic error and is
// rejected, never silently accepted.
func (m *Manager) RecordInteraction(id, promptHash, responseHash string, tokens int) (InteractionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return InteractionRecord{}, ErrNotFound
	}
	if s.State != Active {
		return InteractionRecord{}, ErrSessionNotActive
	}
	rec := InteractionRecord{
		Index:        len(s.Interactions),
		Timestamp:    m.now(),
		PromptHash:   promptHash,
		ResponseHash: responseHash,
		ChainHash:    models.ChainHash(s.ChainHash, promptHash, responseHash),
		Tokens:       tokens,
	}
	s.Interactions = append(s.Interactions, rec)
	s.ChainHash = rec.ChainHash
	s.TokensUsed += tokens
	s.LastActivity = rec.Timestamp
	return rec, nil
}

// End moves the session to its terminal Ended state. No further
// interactions may be recorded afterwards.
func (m *Manager) End(id string, anchor *models.BTCAnchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(s.State, Ended) {
		return ErrBadTransition
	}
	now := m.now()
	s.State = Ended
	s.EndedAt = &now
	s.EndAnchor = anchor
	return nil
}

// VerifyChain replays the session's chain from its genesis link.
func (m *Manager) VerifyChain(id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	return s.verifyChain(), nil
}

// CleanupExpired evicts sessions idle past the timeout. Eviction manages
// storage only; each evicted session's chain was independently verifiable
// up to this point.
func (m *Manager) CleanupExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.timeout {
			if s.State == Active {
				s.State = Expired
			}
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func snapshot(s *Session) Session {
	out := *s
	out.Interactions = make([]InteractionRecord, len(s.Interactions))
	copy(out.Interactions, s.Interactions)
	return out
}
