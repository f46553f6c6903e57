package anchor

import (
	"context"
	"log"
	"time"

	"aegis/pkg/models"
)

// Poller periodically pulls the latest anchor from a Source and hands new
// heights to OnUpdate. Fetch failures are logged and skipped; the chains
// keep using the previous anchor, which is exactly the offline behavior
// the placeholder hash exists for.
type Poller struct {
	Source   Source
	Interval time.Duration
	OnUpdate func(*models.BTCAnchor)

	lastHeight uint64
}

// Run blocks until ctx is cancelled. The first fetch happens immediately.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	p.poll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	a, err := p.Source.Latest(ctx)
	if err != nil {
		log.Printf("anchor poll failed: %v", err)
		return
	}
	if a.Height <= p.lastHeight {
		return
	}
	p.lastHeight = a.Height
	log.Printf("anchor updated: height=%d", a.Height)
	if p.OnUpdate != nil {
		p.OnUpdate(a)
	}
}
