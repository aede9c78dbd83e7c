package httputil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/af-corp/meridian-gateway/internal/types"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req-1", 400, "invalid_request_error", "invalid_request", "model is required")

	if w.Code != 400 {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") != "req-1" {
		t.Errorf("expected X-Request-ID header, got %q", w.Header().Get("X-Request-ID"))
	}

	var body APIError
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Error.Code != "invalid_request" {
		t.Errorf("expected code invalid_request, got %s", body.Error.Code)
	}
	if body.Error.MeridianReqID != "req-1" {
		t.Errorf("expected request id in body, got %s", body.Error.MeridianReqID)
	}
}

func TestWriteGatewayError_StatusMapping(t *testing.T) {
	tests := []struct {
		kind       types.ErrorKind
		wantStatus int
		wantCode   string
	}{
		{types.ErrRateLimit, 429, "rate_limit_exceeded"},
		{types.ErrInvalidRequest, 400, "invalid_request"},
		{types.ErrQuotaExceeded, 402, "quota_exceeded"},
		{types.ErrNetwork, 502, "network_error"},
		{types.ErrAPI, 502, "api_error"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		WriteGatewayError(w, "req-1", types.NewGatewayError(tt.kind, "openai", "boom", nil))

		if w.Code != tt.wantStatus {
			t.Errorf("%s: expected status %d, got %d", tt.kind, tt.wantStatus, w.Code)
		}
		var body APIError
		json.Unmarshal(w.Body.Bytes(), &body)
		if body.Error.Code != tt.wantCode {
			t.Errorf("%s: expected code %s, got %s", tt.kind, tt.wantCode, body.Error.Code)
		}
	}
}

func TestWriteGatewayError_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	WriteGatewayError(w, "req-1", types.NewRateLimitError("openai", 30*time.Second))

	if got := w.Header().Get("Retry-After"); got != "30" {
		t.Errorf("expected Retry-After: 30, got %q", got)
	}
}

func TestWriteGatewayError_UnclassifiedError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteGatewayError(w, "req-1", errTest)

	if w.Code != 502 {
		t.Errorf("expected unclassified errors to map to 502, got %d", w.Code)
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "unclassified" }
