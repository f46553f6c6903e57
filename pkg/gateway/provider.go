package gateway

import (
	"context"
	"errors"

	"aegis/pkg/models"
)

var ErrNoProvider = errors.New("no provider available")

// Provider is the backend contract. Complete is the pipeline's single
// suspension point; providers never compute response or chain hashes.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *models.GatewayRequest) (*models.GatewayResponse, error)
}

// Router picks a provider for a request. Selection strategy lives outside
// the pipeline.
type Router interface {
	Route(ctx context.Context, req *models.GatewayRequest) (Provider, error)
}
