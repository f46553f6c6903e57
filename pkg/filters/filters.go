// Package filters ships the gateway's built-in input and output filters.
// Each one implements the three-outcome contract from pkg/gateway; the
// pipeline runs them in the order they were registered.
package filters

import (
	"context"
	"strings"
	"unicode/utf8"

	"aegis/pkg/gateway"
	"aegis/pkg/models"
	"aegis/pkg/trust"
)

// AuthFilter rejects requests whose bearer token is not in the allowed
// set, and records a trust violation for the presenting entity so that
// repeated forged tokens escalate toward the permanent hostile lock.
type AuthFilter struct {
	Tokens map[string]struct{}
	Trust  *trust.System
}

func NewAuthFilter(tokens []string, ts *trust.System) *AuthFilter {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return &AuthFilter{Tokens: set, Trust: ts}
}

func (f *AuthFilter) Name() string { return "auth" }

func (f *AuthFilter) Filter(ctx context.Context, req *models.GatewayRequest) gateway.InputResult {
	if len(f.Tokens) == 0 {
		return gateway.PassInput()
	}
	if req.AuthToken == "" {
		return gateway.RejectInput("missing auth token")
	}
	if _, ok := f.Tokens[req.AuthToken]; !ok {
		if f.Trust != nil {
			f.Trust.RecordViolation("token:"+models.HashText(req.AuthToken)[:16], "unknown auth token")
		}
		return gateway.RejectInput("unknown auth token")
	}
	return gateway.PassInput()
}

// BlocklistFilter rejects prompts containing any configured term.
// Matching is case-insensitive over the prompt and system prompt.
type BlocklistFilter struct {
	terms []string
}

func NewBlocklistFilter(terms []string) *BlocklistFilter {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return &BlocklistFilter{terms: out}
}

func (f *BlocklistFilter) Name() string { return "blocklist" }

func (f *BlocklistFilter) Filter(ctx context.Context, req *models.GatewayRequest) gateway.InputResult {
	haystack := strings.ToLower(req.Prompt + "\n" + req.SystemPrompt)
	for _, term := range f.terms {
		if strings.Contains(haystack, term) {
			return gateway.RejectInput("blocked term: " + term)
		}
	}
	return gateway.PassInput()
}

// LengthCapFilter truncates oversized prompts instead of rejecting them.
// MaxChars counts runes, and truncation lands on a rune boundary so the
// provider never sees a split multi-byte sequence. The prompt hash
// computed before filtering still attests to the full submitted text.
type LengthCapFilter struct {
	MaxChars int
}

func (f *LengthCapFilter) Name() string { return "length_cap" }

func (f *LengthCapFilter) Filter(ctx context.Context, req *models.GatewayRequest) gateway.InputResult {
	if f.MaxChars <= 0 || utf8.RuneCountInString(req.Prompt) <= f.MaxChars {
		return gateway.PassInput()
	}
	clone := *req
	clone.Prompt = string([]rune(req.Prompt)[:f.MaxChars])
	return gateway.ModifyInput(&clone)
}

// RedactFilter scrubs configured secrets out of provider responses. It
// modifies rather than rejects: hashes still attest to the provider's
// original output.
type RedactFilter struct {
	Secrets []string
}

func (f *RedactFilter) Name() string { return "redact" }

func (f *RedactFilter) Filter(ctx context.Context, req *models.GatewayRequest, resp *models.GatewayResponse) gateway.OutputResult {
	content := resp.Content
	hit := false
	for _, s := range f.Secrets {
		if s == "" {
			continue
		}
		if strings.Contains(content, s) {
			content = strings.ReplaceAll(content, s, "[REDACTED]")
			hit = true
		}
	}
	if !hit {
		return gateway.PassOutput()
	}
	clone := *resp
	clone.Content = content
	return gateway.ModifyOutput(&clone)
}

// EmptyResponseFilter rejects blank provider output so callers never see
// a successful response with no content.
type EmptyResponseFilter struct{}

func (EmptyResponseFilter) Name() string { return "empty_response" }

func (EmptyResponseFilter) Filter(ctx context.Context, req *models.GatewayRequest, resp *models.GatewayResponse) gateway.OutputResult {
	if strings.TrimSpace(resp.Content) == "" {
		return gateway.RejectOutput("provider returned empty content")
	}
	return gateway.PassOutput()
}
