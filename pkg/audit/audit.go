package audit

import (
	"context"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/models"
)

const DefaultCapacity = 10000

var hexHash64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Entry is one link of the audit chain. All fields are immutable once
// written; Seq is monotonic so gaps are detectable in exports even after
// FIFO eviction.
type Entry struct {
	ID        string            `json:"id"`
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	Event     models.AuditEvent `json:"event"`
	EventHash string            `json:"event_hash"`
	ChainHash string            `json:"chain_hash"`
	Anchor    *models.BTCAnchor `json:"anchor,omitempty"`
}

// Sink receives every appended entry, best effort. Implementations must
// tolerate duplicate delivery.
type Sink interface {
	Store(ctx context.Context, entry Entry) error
}

// Log is an append-only, bounded, hash-chained ledger. Each entry links to
// its predecessor and to the anchor active at creation time:
//
//	chain_hash = SHA256(prev_chain_hash || event_hash || anchor_hash)
//
// where prev_chain_hash starts at the genesis hash and anchor_hash is the
// zero placeholder when no anchor is set.
type Log struct {
	mu          sync.RWMutex
	genesis     string
	lastHash    string
	entries     []Entry
	capacity    int
	seq         uint64
	evictedTail string
	anchor      *models.BTCAnchor
	sinks       []Sink
	sinkTimeout time.Duration
}

type Option func(*Log)

func WithGenesis(genesis string) Option {
	return func(l *Log) { l.genesis = genesis }
}

func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

func WithSink(s Sink) Option {
	return func(l *Log) {
		if s != nil {
			l.sinks = append(l.sinks, s)
		}
	}
}

func NewLog(opts ...Option) *Log {
	l := &Log{
		genesis:     models.GenesisHash,
		capacity:    DefaultCapacity,
		sinkTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.evictedTail = l.genesis
	return l
}

// Log appends an event to the chain. It never fails the caller: an event
// that cannot be serialized degrades to a CUSTOM entry carrying the error,
// so the request pipeline keeps going while the gap stays visible.
func (l *Log) Log(event models.AuditEvent) Entry {
	eventHash, err := models.EventHash(event)
	if err != nil {
		log.Printf("audit: event serialization failed, degrading: %v", err)
		event = models.CustomEvent("audit_serialization_failure", map[string]interface{}{
			"error": err.Error(),
			"type":  event.Type,
		})
		eventHash, _ = models.EventHash(event)
	}

	l.mu.Lock()
	prev := l.lastHash
	if prev == "" {
		prev = l.genesis
	}
	anchor := l.anchor
	chainHash := models.ChainHash(prev, eventHash, models.AnchorHash(anchor))
	l.seq++
	entry := Entry{
		ID:        uuid.NewString(),
		Seq:       l.seq,
		Timestamp: time.Now().UTC(),
		Event:     event,
		EventHash: eventHash,
		ChainHash: chainHash,
		Anchor:    anchor,
	}
	l.entries = append(l.entries, entry)
	l.lastHash = chainHash
	if len(l.entries) > l.capacity {
		l.evictedTail = l.entries[0].ChainHash
		l.entries = l.entries[1:]
	}
	sinks := l.sinks
	timeout := l.sinkTimeout
	l.mu.Unlock()

	if len(sinks) > 0 {
		go forward(sinks, entry, timeout)
	}
	return entry
}

func forward(sinks []Sink, entry Entry, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, s := range sinks {
		if err := s.Store(ctx, entry); err != nil {
			log.Printf("audit: sink store failed for entry %d: %v", entry.Seq, err)
		}
	}
}

// SetAnchor updates the anchor used by subsequent Log calls. Past entries
// keep the anchor active at their creation time.
func (l *Log) SetAnchor(height uint64, hash string) error {
	if !hexHash64.MatchString(hash) {
		return ErrBadAnchor
	}
	l.mu.Lock()
	l.anchor = &models.BTCAnchor{Height: height, Hash: hash}
	l.mu.Unlock()
	return nil
}

// Anchor returns the currently active anchor, or nil.
func (l *Log) Anchor() *models.BTCAnchor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.anchor
}

// VerifyChain replays the retained window from its starting link and
// recomputes every hash. Verification is defined over the retained window
// only: after eviction the replay starts from the chain hash of the most
// recently evicted entry, which the log remembers. Full-history
// verification belongs to the durable archive.
func (l *Log) VerifyChain() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := l.evictedTail
	for _, e := range l.entries {
		eventHash, err := models.EventHash(e.Event)
		if err != nil || eventHash != e.EventHash {
			return false
		}
		if models.ChainHash(prev, e.EventHash, models.AnchorHash(e.Anchor)) != e.ChainHash {
			return false
		}
		prev = e.ChainHash
	}
	return true
}

// Entries returns a copy of the retained window, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastHash returns the most recent chain hash, or the genesis hash when
// nothing has been logged.
func (l *Log) LastHash() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.lastHash == "" {
		return l.genesis
	}
	return l.lastHash
}
