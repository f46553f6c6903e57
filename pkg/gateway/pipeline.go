package gateway

import (
	"context"
	"fmt"
	"time"

	"aegis/pkg/audit"
	"aegis/pkg/metrics"
	"aegis/pkg/models"
	"aegis/pkg/ratelimit"
	"aegis/pkg/session"
	"aegis/pkg/stream"
	"aegis/pkg/trust"
)

// Pipeline orchestrates a single request: admission, input filters,
// audit, routing, the provider call, response hashing, output filters,
// and accounting. Steps run strictly in order and none is retried; retry
// policy belongs to the caller. Every collaborator is constructed at boot
// and shared by reference.
type Pipeline struct {
	Audit         *audit.Log
	Sessions      *session.Manager
	Limiter       ratelimit.Checker
	Trust         *trust.System
	Router        Router
	InputFilters  []InputFilter
	OutputFilters []OutputFilter
	Metrics       *metrics.Registry
	Events        *stream.Hub

	// CostPerKiloTokens converts token usage to fractional currency units
	// for the cost-based rate layer.
	CostPerKiloTokens float64
}

// Handle runs one request through the pipeline. The request is owned by
// this invocation; its prompt hash is set here, exactly once, before any
// filter sees it.
func (p *Pipeline) Handle(ctx context.Context, req *models.GatewayRequest) (*models.GatewayResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindRejected, Reason: "cancelled", Err: err}
	}
	if req.PromptHash == "" {
		req.PromptHash = models.HashText(req.Prompt)
	}

	entity := authEntity(req)
	if p.Trust != nil && !p.Trust.IsAllowed(entity, "query") {
		p.Audit.Log(models.SecurityEvent(entity, "trust level below query threshold"))
		p.Audit.Log(models.RequestRejected(req.ID, "insufficient trust"))
		p.reject("trust")
		return nil, &Error{Kind: KindAuthFailed, Reason: "insufficient trust"}
	}

	rc := ratelimit.Context{
		Provider:        req.Provider,
		AuthToken:       req.AuthToken,
		SessionID:       req.SessionID,
		EstimatedTokens: estimateTokens(req),
	}
	rc.EstimatedCost = float64(rc.EstimatedTokens) / 1000 * p.CostPerKiloTokens
	if p.Limiter != nil {
		if d := p.Limiter.Check(rc); !d.Allowed {
			p.Audit.Log(models.RateLimitTriggered(d.Layer, d.Key))
			p.Audit.Log(models.RequestRejected(req.ID, fmt.Sprintf("rate limited at %s", d.Layer)))
			if p.Metrics != nil {
				p.Metrics.IncRateLimited(d.Layer)
			}
			p.reject("rate_limit")
			return nil, &Error{Kind: KindRateLimited, Reason: d.Layer, RetryAfter: d.RetryAfter}
		}
	}

	for _, f := range p.InputFilters {
		res := f.Filter(ctx, req)
		switch res.Action {
		case Reject:
			p.Audit.Log(models.RequestRejected(req.ID, fmt.Sprintf("%s: %s", f.Name(), res.Reason)))
			p.reject("input_filter")
			p.publish(stream.EventRequestRejected, req.ID)
			return nil, &Error{Kind: rejectKind(f.Name()), Reason: res.Reason}
		case Modify:
			if res.Request == nil {
				continue
			}
			if res.Request.PromptHash == "" {
				res.Request.PromptHash = req.PromptHash
			}
			req = res.Request
		}
	}

	p.Audit.Log(models.RequestReceived(req.ID, req.SessionID))

	provider, err := p.Router.Route(ctx, req)
	if err != nil {
		p.Audit.Log(models.RequestRejected(req.ID, "no provider available"))
		p.reject("provider")
		return nil, &Error{Kind: KindProviderUnavailable, Err: err}
	}
	p.Audit.Log(models.RequestRouted(req.ID, provider.Name()))

	if err := ctx.Err(); err != nil {
		p.Audit.Log(models.RequestRejected(req.ID, "cancelled before provider call"))
		p.reject("cancelled")
		return nil, &Error{Kind: KindRejected, Reason: "cancelled", Err: err}
	}

	// The single suspension point: network/model I/O. No lock is held here.
	start := time.Now()
	resp, err := provider.Complete(ctx, req)
	latency := time.Since(start)
	if err != nil {
		p.Audit.Log(models.ResponseRejected(req.ID, fmt.Sprintf("provider %s failed: %v", provider.Name(), err)))
		p.reject("provider")
		return nil, &Error{Kind: KindInference, Err: err}
	}

	if resp.Provider == "" {
		resp.Provider = provider.Name()
	}
	resp.Latency = latency
	resp.ResponseHash = models.HashText(resp.Content)
	resp.ChainHash = models.ChainHash(p.Audit.LastHash(), req.PromptHash, resp.ResponseHash)

	for _, f := range p.OutputFilters {
		res := f.Filter(ctx, req, resp)
		switch res.Action {
		case Reject:
			p.Audit.Log(models.ResponseRejected(req.ID, fmt.Sprintf("%s: %s", f.Name(), res.Reason)))
			p.reject("output_filter")
			p.publish(stream.EventResponseRejected, req.ID)
			return nil, &Error{Kind: KindRejected, Reason: res.Reason}
		case Modify:
			if res.Response != nil {
				// Hashes attest to the provider's original output and are
				// not recomputed for filtered content.
				res.Response.ResponseHash = resp.ResponseHash
				res.Response.ChainHash = resp.ChainHash
				resp = res.Response
			}
		}
	}

	if req.SessionID != "" {
		if _, err := p.Sessions.RecordInteraction(req.SessionID, req.PromptHash, resp.ResponseHash, resp.TotalTokens); err != nil {
			p.Audit.Log(models.CustomEvent("session_record_failed", map[string]interface{}{
				"session_id": req.SessionID,
				"request_id": req.ID,
				"error":      err.Error(),
			}))
			p.reject("session")
			return nil, &Error{Kind: KindSession, Reason: "recording interaction", Err: err}
		}
	}

	p.Audit.Log(models.ResponseSent(req.ID, resp.Provider, resp.TotalTokens))

	cost := float64(resp.TotalTokens) / 1000 * p.CostPerKiloTokens
	if p.Limiter != nil {
		p.Limiter.RecordUsage(rc, resp.TotalTokens, cost)
	}
	if p.Metrics != nil {
		p.Metrics.IncRequest()
		p.Metrics.IncProviderCall(resp.Provider)
		p.Metrics.AddTokens(resp.InputTokens, resp.OutputTokens)
		p.Metrics.AddCost(cost)
		p.Metrics.ObserveProviderLatency(resp.Provider, latency)
	}
	p.publish(stream.EventResponseSent, req.ID)
	return resp, nil
}

func (p *Pipeline) reject(stage string) {
	if p.Metrics != nil {
		p.Metrics.IncRejected(stage)
	}
}

func (p *Pipeline) publish(eventType, requestID string) {
	if p.Events == nil {
		return
	}
	p.Events.Publish(stream.NewEvent(eventType, map[string]string{"request_id": requestID}))
}

func rejectKind(filterName string) string {
	if filterName == "auth" {
		return KindAuthFailed
	}
	return KindRejected
}

func authEntity(req *models.GatewayRequest) string {
	if req.AuthToken == "" {
		return "anonymous"
	}
	return "token:" + models.HashText(req.AuthToken)[:16]
}

func estimateTokens(req *models.GatewayRequest) int {
	n := len(req.Prompt) / 4
	for _, m := range req.History {
		n += len(m.Content) / 4
	}
	if n < 1 {
		n = 1
	}
	return n
}
