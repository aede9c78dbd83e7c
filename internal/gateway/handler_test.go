package gateway

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/meridian-gateway/internal/config"
	"github.com/af-corp/meridian-gateway/internal/router/adapters"
	"github.com/af-corp/meridian-gateway/internal/types"
)

func newTestServer(t *testing.T, primary *fakeAdapter) *httptest.Server {
	t.Helper()

	fx := newFixture(t, primary, nil, config.LimitsConfig{
		Default: config.ProviderLimit{Requests: 2, Window: time.Minute},
	})
	sfx := newStreamFixture(t, primary, nil, config.StreamingConfig{})
	handler := NewHandler(fx.orchestrator, sfx.sessions, fx.monitor, fx.health)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Request-ID", "req-test")
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/v1/generate", handler.Generate)
	r.Post("/v1/stream", handler.Stream)
	r.Delete("/v1/stream/{id}", handler.CancelStream)
	r.Get("/v1/usage", handler.Usage)
	r.Post("/meridian/v1/reset-daily-costs", handler.ResetDailyCosts)
	r.Get("/meridian/v1/health", handler.Health)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

const validBody = `{
	"messages": [{"role": "user", "content": "hello"}],
	"config": {"model": "chat"}
}`

func TestHandlerGenerate(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	server := newTestServer(t, primary)

	resp, err := http.Post(server.URL+"/v1/generate", "application/json", strings.NewReader(validBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body types.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Text != "generated text" {
		t.Errorf("Text = %q", body.Text)
	}
	if body.RequestID != "req-test" {
		t.Errorf("RequestID = %q", body.RequestID)
	}
}

func TestHandlerGenerate_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty messages", `{"messages": [], "config": {"model": "chat"}}`},
		{"missing model", `{"messages": [{"role": "user", "content": "hi"}], "config": {}}`},
		{"bad role", `{"messages": [{"role": "robot", "content": "hi"}], "config": {"model": "chat"}}`},
		{"empty content", `{"messages": [{"role": "user", "content": ""}], "config": {"model": "chat"}}`},
		{"negative max_tokens", `{"messages": [{"role": "user", "content": "hi"}], "config": {"model": "chat", "max_tokens": -1}}`},
		{"temperature out of range", `{"messages": [{"role": "user", "content": "hi"}], "config": {"model": "chat", "temperature": 3.0}}`},
		{"not json", `{{{`},
	}

	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	server := newTestServer(t, primary)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/v1/generate", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if got := primary.calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0 for rejected requests", got)
	}
}

func TestHandlerGenerate_RateLimitResponse(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	server := newTestServer(t, primary)

	// Window is 2 requests; distinct bodies dodge the cache.
	for _, content := range []string{"one", "two"} {
		body := `{"messages": [{"role": "user", "content": "` + content + `"}], "config": {"model": "chat"}}`
		resp, err := http.Post(server.URL+"/v1/generate", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
	}

	body := `{"messages": [{"role": "user", "content": "three"}], "config": {"model": "chat"}}`
	resp, err := http.Post(server.URL+"/v1/generate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 must carry a Retry-After header")
	}
}

func TestHandlerStream(t *testing.T) {
	primary := &fakeAdapter{name: "alpha"}
	primary.streamF = scriptedStream(
		[]string{"Hel", "lo"},
		adapters.Chunk{
			Kind:         adapters.ChunkCompletion,
			FinishReason: "stop",
			Usage:        &types.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		},
		time.Millisecond,
	)
	server := newTestServer(t, primary)

	resp, err := http.Post(server.URL+"/v1/stream", "application/json", strings.NewReader(validBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if resp.Header.Get("X-Session-ID") == "" {
		t.Error("stream response must expose the session id")
	}

	var events []sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev sseEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 2 partials + 1 complete", len(events))
	}
	if events[0].Type != StreamPartial || events[0].Text != "Hel" {
		t.Errorf("first event = %+v", events[0])
	}
	final := events[2]
	if final.Type != StreamComplete {
		t.Fatalf("final type = %s", final.Type)
	}
	if final.Response == nil || final.Response.Text != "Hello" {
		t.Errorf("final response = %+v", final.Response)
	}
	if final.Response.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", final.Response.Usage)
	}
}

func TestHandlerCancelStream_Unknown(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	server := newTestServer(t, primary)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/stream/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandlerUsageAndReset(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	server := newTestServer(t, primary)

	resp, err := http.Post(server.URL+"/v1/generate", "application/json", strings.NewReader(validBody))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/v1/usage")
	if err != nil {
		t.Fatalf("GET usage: %v", err)
	}
	defer resp.Body.Close()

	var usage struct {
		Usage []struct {
			Provider     string `json:"provider"`
			RequestCount int64  `json:"request_count"`
		} `json:"usage"`
		ActiveSessions int `json:"active_sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(usage.Usage) != 1 || usage.Usage[0].RequestCount != 1 {
		t.Errorf("usage = %+v, want one entry with one request", usage.Usage)
	}

	resp, err = http.Post(server.URL+"/meridian/v1/reset-daily-costs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reset status = %d, want 200", resp.StatusCode)
	}
}

func TestHandlerHealth(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", completeF: okResponse}
	server := newTestServer(t, primary)

	resp, err := http.Get(server.URL + "/meridian/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}
