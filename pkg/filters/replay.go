package filters

import (
	"context"
	"log"
	"time"

	"aegis/pkg/gateway"
	"aegis/pkg/models"
	"aegis/pkg/store"
)

// ReplayFilter rejects a request ID that was already admitted within the
// TTL window. Backed by SetNX so the check is atomic whether the cache is
// Redis or in-memory. Cache failures fail open: a lost dedup check is
// preferable to refusing traffic.
type ReplayFilter struct {
	Cache store.Cache
	TTL   time.Duration
}

func NewReplayFilter(cache store.Cache, ttl time.Duration) *ReplayFilter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ReplayFilter{Cache: cache, TTL: ttl}
}

func (f *ReplayFilter) Name() string { return "replay" }

func (f *ReplayFilter) Filter(ctx context.Context, req *models.GatewayRequest) gateway.InputResult {
	if f.Cache == nil || req.ID == "" {
		return gateway.PassInput()
	}
	fresh, err := f.Cache.SetNX(ctx, "replay:"+req.ID, "1", f.TTL)
	if err != nil {
		log.Printf("replay filter cache error: %v", err)
		return gateway.PassInput()
	}
	if !fresh {
		return gateway.RejectInput("duplicate request id")
	}
	return gateway.PassInput()
}
