package providers

import (
	"context"
	"sync"

	"aegis/pkg/gateway"
	"aegis/pkg/models"
)

// StaticRouter routes to a fixed set of providers. A request's provider
// preference wins when that provider is registered and healthy; otherwise
// the first healthy provider in registration order is chosen. Selection
// quality beyond that is deliberately out of scope here.
type StaticRouter struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]gateway.Provider
	healthy   map[string]bool
}

func NewStaticRouter(ps ...gateway.Provider) *StaticRouter {
	r := &StaticRouter{
		providers: map[string]gateway.Provider{},
		healthy:   map[string]bool{},
	}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func (r *StaticRouter) Register(p gateway.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	r.healthy[name] = true
}

// SetHealthy flips a provider's availability. Unknown names are ignored.
func (r *StaticRouter) SetHealthy(name string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		r.healthy[name] = healthy
	}
}

func (r *StaticRouter) Healthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

func (r *StaticRouter) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *StaticRouter) Route(ctx context.Context, req *models.GatewayRequest) (gateway.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if req.Provider != "" {
		if p, ok := r.providers[req.Provider]; ok && r.healthy[req.Provider] {
			return p, nil
		}
	}
	for _, name := range r.order {
		if r.healthy[name] {
			return r.providers[name], nil
		}
	}
	return nil, gateway.ErrNoProvider
}

var _ gateway.Router = (*StaticRouter)(nil)
