// Package anchor fetches external block anchors mixed into the audit and
// session chains. The source supplies only an opaque height and hash; no
// signature verification happens here.
package anchor

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"aegis/pkg/httpx"
	"aegis/pkg/models"
)

// Source yields the latest anchor. Implementations must be safe for
// concurrent use.
type Source interface {
	Latest(ctx context.Context) (*models.BTCAnchor, error)
}

var hexHash64 = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HTTPSource reads a mempool-style REST API: a plain-text tip height at
// /api/blocks/tip/height and the block hash at /api/block-height/{height}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func (s *HTTPSource) Latest(ctx context.Context) (*models.BTCAnchor, error) {
	heightText, err := httpx.GetText(ctx, s.Client, s.BaseURL+"/api/blocks/tip/height")
	if err != nil {
		return nil, fmt.Errorf("fetch tip height: %w", err)
	}
	height, err := strconv.ParseUint(heightText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse tip height %q: %w", heightText, err)
	}

	hash, err := httpx.GetText(ctx, s.Client, fmt.Sprintf("%s/api/block-height/%d", s.BaseURL, height))
	if err != nil {
		return nil, fmt.Errorf("fetch block hash: %w", err)
	}
	if !hexHash64.MatchString(hash) {
		return nil, fmt.Errorf("malformed block hash %q", hash)
	}
	return &models.BTCAnchor{Height: height, Hash: hash}, nil
}

// StaticSource returns a fixed anchor. Useful for tests and for air-gapped
// deployments that pin anchors out of band.
type StaticSource struct {
	Anchor *models.BTCAnchor
}

func (s *StaticSource) Latest(ctx context.Context) (*models.BTCAnchor, error) {
	if s.Anchor == nil {
		return nil, fmt.Errorf("no anchor configured")
	}
	a := *s.Anchor
	return &a, nil
}
