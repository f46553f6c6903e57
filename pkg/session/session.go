package session

import (
	"errors"
	"time"

	"aegis/pkg/models"
)

// Session states. Active is the only non-terminal state; a session never
// leaves Ended, Expired, or Error once it gets there.
const (
	Active  = "ACTIVE"
	Ended   = "ENDED"
	Expired = "EXPIRED"
	Error   = "ERROR"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrBadTransition    = errors.New("invalid session transition")
)

func CanTransition(from, to string) bool {
	switch from {
	case Active:
		return to == Ended || to == Expired || to == Error
	default:
		return false
	}
}

func IsTerminal(state string) bool {
	switch state {
	case Ended, Expired, Error:
		return true
	default:
		return false
	}
}

// InteractionRecord is one link of a session's chain:
//
//	chain_hash = SHA256(prev_chain_hash || prompt_hash || response_hash)
type InteractionRecord struct {
	Index        int       `json:"index"`
	Timestamp    time.Time `json:"timestamp"`
	PromptHash   string    `json:"prompt_hash"`
	ResponseHash string    `json:"response_hash"`
	ChainHash    string    `json:"chain_hash"`
	Tokens       int       `json:"tokens"`
}

// Session is a per-conversation hash chain. The genesis link is
// SHA256(session_id || start_anchor_or_placeholder).
type Session struct {
	ID           string              `json:"id"`
	State        string              `json:"state"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActivity time.Time           `json:"last_activity"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
	StartAnchor  *models.BTCAnchor   `json:"start_anchor,omitempty"`
	EndAnchor    *models.BTCAnchor   `json:"end_anchor,omitempty"`
	Interactions []InteractionRecord `json:"interactions"`
	ChainHash    string              `json:"chain_hash"`
	TokensUsed   int                 `json:"tokens_used"`
}

func (s *Session) genesisHash() string {
	return models.ChainHash(s.ID, models.AnchorHash(s.StartAnchor))
}

// verifyChain replays the session chain from its genesis link.
func (s *Session) verifyChain() bool {
	prev := s.genesisHash()
	for _, rec := range s.Interactions {
		if models.ChainHash(prev, rec.PromptHash, rec.ResponseHash) != rec.ChainHash {
			return false
		}
		prev = rec.ChainHash
	}
	return s.ChainHash == prev
}
