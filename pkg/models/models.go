package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a single turn of bounded conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GatewayRequest is the unit of work flowing through the pipeline.
// PromptHash is set exactly once by the pipeline before any filter runs;
// the request is owned by the pipeline invocation that created it.
type GatewayRequest struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id,omitempty"`
	Prompt       string    `json:"prompt"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	History      []Message `json:"history,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	TaskType     string    `json:"task_type,omitempty"`
	AuthToken    string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	PromptHash   string    `json:"prompt_hash,omitempty"`
}

func NewGatewayRequest(prompt string) *GatewayRequest {
	return &GatewayRequest{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
}

// GatewayResponse carries provider output plus the hashes the pipeline
// computes after completion. Providers never set ResponseHash or ChainHash.
type GatewayResponse struct {
	Content      string        `json:"content"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	TotalTokens  int           `json:"total_tokens"`
	Latency      time.Duration `json:"latency_ms"`
	ResponseHash string        `json:"response_hash,omitempty"`
	ChainHash    string        `json:"chain_hash,omitempty"`
}

// BTCAnchor is an externally sourced block reference mixed into chain
// hashes. A nil anchor means the zero placeholder is used instead.
type BTCAnchor struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}
