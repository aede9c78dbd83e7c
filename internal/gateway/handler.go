package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/meridian-gateway/internal/auth"
	"github.com/af-corp/meridian-gateway/internal/httputil"
	"github.com/af-corp/meridian-gateway/internal/monitor"
	"github.com/af-corp/meridian-gateway/internal/router"
	"github.com/af-corp/meridian-gateway/internal/types"
)

// Handler exposes the gateway over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	sessions     *SessionManager
	monitor      *monitor.Monitor
	health       *router.HealthTracker
}

func NewHandler(orchestrator *Orchestrator, sessions *SessionManager, mon *monitor.Monitor, health *router.HealthTracker) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		sessions:     sessions,
		monitor:      mon,
		health:       health,
	}
}

// apiRequest is the request body accepted by /v1/generate and /v1/stream.
type apiRequest struct {
	Messages []types.Message        `json:"messages"`
	Config   types.GenerationConfig `json:"config"`
	AgentID  string                 `json:"agent_id,omitempty"`
}

// decodeRequest parses and validates the body, then stamps caller identity
// from the auth context.
func decodeRequest(r *http.Request, reqID string) (*types.Request, string) {
	var body apiRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, "invalid JSON: " + err.Error()
	}

	if len(body.Messages) == 0 {
		return nil, "messages is required"
	}
	for i, m := range body.Messages {
		switch m.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		default:
			return nil, fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role)
		}
		if m.Content == "" {
			return nil, fmt.Sprintf("messages[%d]: content is required", i)
		}
	}
	if body.Config.Model == "" {
		return nil, "config.model is required"
	}
	if body.Config.MaxTokens < 0 {
		return nil, "config.max_tokens must not be negative"
	}
	if t := body.Config.Temperature; t != nil && (*t < 0 || *t > 2) {
		return nil, "config.temperature must be within [0, 2]"
	}

	req := &types.Request{
		RequestID:  reqID,
		Messages:   body.Messages,
		Config:     body.Config,
		AgentID:    body.AgentID,
		ReceivedAt: time.Now(),
	}
	if info, ok := auth.AuthFromContext(r.Context()); ok {
		req.OrganizationID = info.OrganizationID
		req.TeamID = info.TeamID
		req.UserID = info.UserID
	}
	return req, ""
}

// Generate handles POST /v1/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	req, problem := decodeRequest(r, reqID)
	if problem != "" {
		httputil.WriteBadRequestError(w, reqID, problem)
		return
	}

	resp, err := h.orchestrator.Generate(r.Context(), req)
	if err != nil {
		ge := types.AsGatewayError(err)
		slog.Error("generation failed",
			"request_id", reqID,
			"error_kind", string(ge.Kind),
			"provider", ge.Provider,
			"error", ge.Message,
		)
		httputil.WriteGatewayError(w, reqID, err)
		return
	}

	slog.Info("request completed",
		"request_id", reqID,
		"provider", resp.Provider,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration_ms", time.Since(req.ReceivedAt).Milliseconds(),
		"org_id", req.OrganizationID,
		"cache", resp.Metadata["cache"],
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Stream handles POST /v1/stream. Events go out as SSE; the session id is
// exposed in the X-Session-ID header and in every event so the caller can
// cancel explicitly.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	req, problem := decodeRequest(r, reqID)
	if problem != "" {
		httputil.WriteBadRequestError(w, reqID, problem)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, reqID, "streaming not supported")
		return
	}

	session, err := h.sessions.Open(r.Context(), req)
	if err != nil {
		httputil.WriteGatewayError(w, reqID, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", session.ID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Info("stream opened",
		"request_id", reqID,
		"session_id", session.ID,
		"provider", session.Provider,
		"model", session.Model,
		"org_id", req.OrganizationID,
	)

	for {
		select {
		case <-r.Context().Done():
			// Caller went away; the session must not keep billing.
			h.sessions.Cancel(session.ID)
			return
		case ev, open := <-session.Events:
			if !open {
				return
			}
			writeSSEEvent(w, flusher, reqID, ev)
			if ev.Type != StreamPartial {
				return
			}
		}
	}
}

// sseEvent is the wire shape of one SSE data line.
type sseEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	Text      string          `json:"text,omitempty"`
	Response  *types.Response `json:"response,omitempty"`
	Error     *sseError       `json:"error,omitempty"`
}

type sseError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, reqID string, ev StreamEvent) {
	wire := sseEvent{
		Type:      ev.Type,
		SessionID: ev.SessionID,
		Text:      ev.Text,
		Response:  ev.Response,
	}
	if ev.Err != nil {
		ge := types.AsGatewayError(ev.Err)
		wire.Error = &sseError{Kind: string(ge.Kind), Message: ge.Message}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		slog.Error("failed to encode stream event", "request_id", reqID, "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// CancelStream handles DELETE /v1/stream/{id}.
func (h *Handler) CancelStream(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	id := chi.URLParam(r, "id")
	if !h.sessions.Cancel(id) {
		httputil.WriteNotFoundError(w, reqID, "unknown session: "+id)
		return
	}

	slog.Info("stream cancelled by caller", "request_id", reqID, "session_id", id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"session_id": id, "status": "cancelled"})
}

// Usage handles GET /v1/usage.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	snapshots := h.monitor.Snapshot()
	if snapshots == nil {
		snapshots = []monitor.Snapshot{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"usage":           snapshots,
		"active_sessions": h.sessions.Active(),
	})
}

// ResetDailyCosts handles POST /meridian/v1/reset-daily-costs. Meant to be
// hit by an external scheduler at local midnight.
func (h *Handler) ResetDailyCosts(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	h.monitor.ResetDaily()
	slog.Info("daily cost counters reset", "request_id", reqID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

// Health handles GET /meridian/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": h.health.States(),
	})
}
