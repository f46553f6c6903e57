package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aegis/pkg/audit"
	"aegis/pkg/gateway"
	"aegis/pkg/httpx"
	"aegis/pkg/models"
	"aegis/pkg/stream"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

type completeRequest struct {
	Prompt       string           `json:"prompt"`
	SessionID    string           `json:"session_id,omitempty"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
	History      []models.Message `json:"history,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	Temperature  float64          `json:"temperature,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	TaskType     string           `json:"task_type,omitempty"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in completeRequest
	if err := json.Unmarshal(body, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(in.Prompt) == "" {
		httpx.Error(w, http.StatusBadRequest, "prompt required")
		return
	}
	if in.Temperature < 0 || in.Temperature > 1 {
		httpx.Error(w, http.StatusBadRequest, "temperature must be in [0,1]")
		return
	}

	req := models.NewGatewayRequest(in.Prompt)
	req.SessionID = in.SessionID
	req.SystemPrompt = in.SystemPrompt
	req.History = in.History
	req.MaxTokens = in.MaxTokens
	req.Temperature = in.Temperature
	req.Provider = in.Provider
	req.TaskType = in.TaskType
	req.AuthToken = bearerToken(r)

	resp, err := s.Pipeline.Handle(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": req.ID,
		"response":   resp,
	})
}

// writeGatewayError maps pipeline error kinds onto HTTP statuses. The kind
// string travels in the body so API consumers can branch without parsing
// the human-readable reason.
func writeGatewayError(w http.ResponseWriter, err error) {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch ge.Kind {
	case gateway.KindRateLimited:
		status = http.StatusTooManyRequests
		if ge.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(ge.RetryAfter.Seconds()+1)))
		}
	case gateway.KindAuthFailed:
		status = http.StatusForbidden
	case gateway.KindRejected:
		status = http.StatusUnprocessableEntity
	case gateway.KindProviderUnavailable:
		status = http.StatusServiceUnavailable
	case gateway.KindInference:
		status = http.StatusBadGateway
	case gateway.KindSession:
		status = http.StatusConflict
	}
	httpx.WriteJSON(w, status, map[string]string{
		"error": ge.Error(),
		"kind":  ge.Kind,
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.Sessions.Create(s.Audit.Anchor())
	s.Audit.Log(models.SessionStarted(sess.ID))
	s.Events.Publish(stream.NewEvent(stream.EventSessionStarted, map[string]string{"session_id": sess.ID}))
	httpx.WriteJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(chi.URLParam(r, "session_id"))
	if err != nil {
		httpx.Error(w, http.StatusNotFound, "session not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	if err := s.Sessions.End(id, s.Audit.Anchor()); err != nil {
		httpx.Error(w, http.StatusConflict, err.Error())
		return
	}
	s.Audit.Log(models.SessionEnded(id))
	s.Events.Publish(stream.NewEvent(stream.EventSessionEnded, map[string]string{"session_id": id}))
	sess, err := s.Sessions.Get(id)
	if err != nil {
		httpx.Error(w, http.StatusNotFound, "session not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sess)
}

func (s *Server) verifySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")
	valid, err := s.Sessions.VerifyChain(id)
	if err != nil {
		httpx.Error(w, http.StatusNotFound, "session not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"valid":      valid,
	})
}

func (s *Server) exportAudit(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("format") {
	case "", "chain":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(s.Audit.ExportChain()))
	case "json":
		data, err := s.Audit.ExportJSON()
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "export failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	default:
		httpx.Error(w, http.StatusBadRequest, "format must be chain or json")
	}
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   s.Audit.VerifyChain(),
		"entries": s.Audit.Len(),
	})
}

// verifyHistory replays the full archived chain from genesis. Only
// meaningful when the Postgres archive is configured.
func (s *Server) verifyHistory(w http.ResponseWriter, r *http.Request) {
	if s.Archive == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	entries, err := s.Archive.Entries(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   audit.VerifyHistory(models.GenesisHash, entries),
		"entries": len(entries),
	})
}

type anchorRequest struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

func (s *Server) setAnchor(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in anchorRequest
	if err := json.Unmarshal(body, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.Audit.SetAnchor(in.Height, in.Hash); err != nil {
		httpx.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	s.Metrics.SetGauge("anchor_height", float64(in.Height))
	s.Events.Publish(stream.NewEvent(stream.EventAnchorUpdated, in))
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"height": in.Height, "hash": in.Hash})
}

func (s *Server) getTrust(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Trust.GetState(chi.URLParam(r, "entity")))
}

func (s *Server) recordViolation(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &in); err != nil || strings.TrimSpace(in.Description) == "" {
		httpx.Error(w, http.StatusBadRequest, "description required")
		return
	}
	state := s.Trust.RecordViolation(entity, in.Description)
	s.Metrics.IncTrustViolation()
	s.Audit.Log(models.SecurityEvent(entity, "violation: "+in.Description))
	s.Events.Publish(stream.NewEvent(stream.EventTrustViolation, map[string]string{"entity": entity}))
	httpx.WriteJSON(w, http.StatusOK, state)
}

func (s *Server) recordPositive(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in struct {
		Weight float64 `json:"weight"`
	}
	if err := json.Unmarshal(body, &in); err != nil || in.Weight <= 0 {
		httpx.Error(w, http.StatusBadRequest, "positive weight required")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.Trust.RecordPositive(entity, in.Weight))
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	names := s.Router.Names()
	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]interface{}{
			"name":    name,
			"healthy": s.Router.Healthy(name),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"providers": out})
}

func (s *Server) setProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.Router.SetHealthy(name, in.Healthy)
	s.Audit.Log(models.ProviderHealth(name, in.Healthy))
	httpx.WriteJSON(w, http.StatusOK, map[string]interface{}{"name": name, "healthy": in.Healthy})
}

func (s *Server) limitStats(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Limiter.Stats())
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if len(s.Config.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.Config.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent(stream.EventReady, nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}
