// Package providers implements gateway.Provider backends and a static
// router over them.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"aegis/pkg/gateway"
	"aegis/pkg/httpx"
	"aegis/pkg/models"
)

// HTTPProvider talks to an OpenAI-compatible chat-completions endpoint.
// It maps the gateway request onto the wire format and back; hashing and
// auditing stay in the pipeline.
type HTTPProvider struct {
	ProviderName string
	BaseURL      string
	APIKey       string
	Model        string
	Client       *http.Client
	Retries      int
	RetryDelay   time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *HTTPProvider) Name() string { return p.ProviderName }

func (p *HTTPProvider) Complete(ctx context.Context, req *models.GatewayRequest) (*models.GatewayResponse, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}
	status, respBody, err := httpx.RequestJSON(ctx, p.Client, http.MethodPost,
		p.BaseURL+"/v1/chat/completions", body, headers, p.Retries, p.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.ProviderName, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("provider %s: status %d", p.ProviderName, status)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("provider %s: decode: %w", p.ProviderName, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("provider %s: %s", p.ProviderName, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("provider %s: no choices", p.ProviderName)
	}

	model := out.Model
	if model == "" {
		model = p.Model
	}
	return &models.GatewayResponse{
		Content:      out.Choices[0].Message.Content,
		Provider:     p.ProviderName,
		Model:        model,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
		TotalTokens:  out.Usage.TotalTokens,
	}, nil
}

var _ gateway.Provider = (*HTTPProvider)(nil)
