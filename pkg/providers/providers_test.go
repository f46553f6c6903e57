package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"aegis/pkg/gateway"
	"aegis/pkg/models"
)

func TestHTTPProviderComplete(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("missing bearer header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "m-1",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "four"}},
			},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9},
		})
	}))
	defer srv.Close()

	p := &HTTPProvider{
		ProviderName: "openai",
		BaseURL:      srv.URL,
		APIKey:       "key-1",
		Model:        "m-1",
		Client:       srv.Client(),
	}

	req := models.NewGatewayRequest("what is 2+2")
	req.SystemPrompt = "be terse"
	req.History = []models.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	req.MaxTokens = 16

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Content != "four" || resp.TotalTokens != 9 || resp.Provider != "openai" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ResponseHash != "" || resp.ChainHash != "" {
		t.Fatal("provider must not set hashes")
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("expected system+history+user = 4 messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[3].Content != "what is 2+2" {
		t.Fatalf("message order wrong: %+v", captured.Messages)
	}
}

func TestHTTPProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded"},
		})
	}))
	defer srv.Close()

	p := &HTTPProvider{ProviderName: "openai", BaseURL: srv.URL, Client: srv.Client()}
	if _, err := p.Complete(context.Background(), models.NewGatewayRequest("hi")); err == nil {
		t.Fatal("API error payload must surface as an error")
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer bad.Close()
	p = &HTTPProvider{ProviderName: "openai", BaseURL: bad.URL, Client: bad.Client()}
	if _, err := p.Complete(context.Background(), models.NewGatewayRequest("hi")); err == nil {
		t.Fatal("non-200 status must surface as an error")
	}
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Complete(ctx context.Context, req *models.GatewayRequest) (*models.GatewayResponse, error) {
	return &models.GatewayResponse{Content: s.name}, nil
}

func TestStaticRouterPreference(t *testing.T) {
	r := NewStaticRouter(stubProvider{"alpha"}, stubProvider{"beta"})

	req := models.NewGatewayRequest("hi")
	req.Provider = "beta"
	p, err := r.Route(context.Background(), req)
	if err != nil || p.Name() != "beta" {
		t.Fatalf("preference must win: %v %v", p, err)
	}

	req.Provider = ""
	p, err = r.Route(context.Background(), req)
	if err != nil || p.Name() != "alpha" {
		t.Fatalf("first registered must win without preference: %v %v", p, err)
	}
}

func TestStaticRouterHealth(t *testing.T) {
	r := NewStaticRouter(stubProvider{"alpha"}, stubProvider{"beta"})
	r.SetHealthy("alpha", false)

	req := models.NewGatewayRequest("hi")
	req.Provider = "alpha"
	p, err := r.Route(context.Background(), req)
	if err != nil || p.Name() != "beta" {
		t.Fatalf("unhealthy preference must fall through: %v %v", p, err)
	}

	r.SetHealthy("beta", false)
	if _, err := r.Route(context.Background(), req); !errors.Is(err, gateway.ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}

	r.SetHealthy("alpha", true)
	if !r.Healthy("alpha") || r.Healthy("beta") {
		t.Fatal("health flags out of sync")
	}
}
