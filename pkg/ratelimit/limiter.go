package ratelimit

import (
	"sync"
	"time"
)

// Layer names, in the order they are checked.
const (
	LayerGlobal       = "global"
	LayerPerProvider  = "per_provider"
	LayerPerAuthToken = "per_auth_token"
	LayerPerSession   = "per_session"
	LayerCostBased    = "cost_based"
)

type LayerConfig struct {
	Name       string
	Capacity   float64
	RefillRate float64
}

// DefaultLayers returns the standard five-layer stack.
func DefaultLayers() []LayerConfig {
	return []LayerConfig{
		{Name: LayerGlobal, Capacity: 1000, RefillRate: 100},
		{Name: LayerPerProvider, Capacity: 200, RefillRate: 20},
		{Name: LayerPerAuthToken, Capacity: 60, RefillRate: 1},
		{Name: LayerPerSession, Capacity: 30, RefillRate: 0.5},
		{Name: LayerCostBased, Capacity: 100, RefillRate: 0.1},
	}
}

// Context is the per-request admission input. Ephemeral, never persisted.
type Context struct {
	Provider        string
	AuthToken       string
	SessionID       string
	EstimatedTokens int
	EstimatedCost   float64
}

type Decision struct {
	Allowed    bool
	Layer      string
	Key        string
	RetryAfter time.Duration
}

type Stats struct {
	Allowed     uint64  `json:"allowed"`
	Rejected    uint64  `json:"rejected"`
	TotalTokens uint64  `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// Checker is the admission contract the pipeline consumes; the in-memory
// and Redis-backed limiters both satisfy it.
type Checker interface {
	Check(rc Context) Decision
	RecordUsage(rc Context, tokens int, cost float64)
	Stats() Stats
}

// Limiter composes ordered layers, each backed by lazily created token
// buckets. Admission is strictly conjunctive and non-transactional: the
// first exhausted layer rejects, and tokens already consumed from earlier
// layers are not refunded. That asymmetry discourages retry storms.
type Limiter struct {
	mu      sync.Mutex
	layers  []LayerConfig
	buckets map[string]*TokenBucket
	stats   Stats
	now     func() time.Time
}

func NewLimiter(layers []LayerConfig) *Limiter {
	if len(layers) == 0 {
		layers = DefaultLayers()
	}
	return &Limiter{
		layers:  layers,
		buckets: map[string]*TokenBucket{},
	}
}

// BucketKey derives the per-layer bucket key for a request context.
func BucketKey(layer string, rc Context) string {
	switch layer {
	case LayerGlobal:
		return "global"
	case LayerPerProvider:
		name := rc.Provider
		if name == "" {
			name = "any"
		}
		return "provider:" + name
	case LayerPerAuthToken:
		token := rc.AuthToken
		if token == "" {
			token = "anonymous"
		}
		return "token:" + token
	case LayerPerSession:
		id := rc.SessionID
		if id == "" {
			id = "none"
		}
		return "session:" + id
	case LayerCostBased:
		return costKey(rc)
	default:
		return layer
	}
}

func costKey(rc Context) string {
	token := rc.AuthToken
	if token == "" {
		token = "anonymous"
	}
	id := rc.SessionID
	if id == "" {
		id = "none"
	}
	return "cost:" + token + ":" + id
}

func (l *Limiter) bucket(cfg LayerConfig, key string) *TokenBucket {
	full := cfg.Name + "|" + key
	b, ok := l.buckets[full]
	if !ok {
		b = NewTokenBucket(cfg.Capacity, cfg.RefillRate)
		if l.now != nil {
			b.now = l.now
			b.lastUpdate = l.now()
		}
		l.buckets[full] = b
	}
	return b
}

// Check walks the layers in declaration order and consumes one token from
// each. The first exhausted layer short-circuits the whole check.
func (l *Limiter) Check(rc Context) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cfg := range l.layers {
		key := BucketKey(cfg.Name, rc)
		b := l.bucket(cfg, key)
		if !b.TryConsume(1) {
			l.stats.Rejected++
			return Decision{
				Allowed:    false,
				Layer:      cfg.Name,
				Key:        key,
				RetryAfter: b.TimeUntil(1),
			}
		}
	}
	l.stats.Allowed++
	return Decision{Allowed: true}
}

// RecordUsage charges actual token/cost figures after completion against a
// dedicated cost bucket, independent of the admission check.
func (l *Limiter) RecordUsage(rc Context, tokens int, cost float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg := l.costLayer()
	b := l.bucket(cfg, costKey(rc))
	b.ForceConsume(cost)
	l.stats.TotalTokens += uint64(tokens)
	l.stats.TotalCost += cost
}

func (l *Limiter) costLayer() LayerConfig {
	for _, cfg := range l.layers {
		if cfg.Name == LayerCostBased {
			return cfg
		}
	}
	return LayerConfig{Name: LayerCostBased, Capacity: 100, RefillRate: 0.1}
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
