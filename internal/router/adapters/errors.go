package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/meridian-gateway/internal/types"
)

// classifyTransportError translates a failed HTTP round trip into the
// canonical taxonomy. Everything at this layer is a transport problem, so it
// maps to NETWORK_ERROR unless the caller's context was cancelled.
func classifyTransportError(provider string, err error) *types.GatewayError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewGatewayError(types.ErrNetwork, provider, "request cancelled or timed out", err)
	}
	return types.NewGatewayError(types.ErrNetwork, provider, "transport failure: "+err.Error(), err)
}

// classifyStatusError translates a non-2xx vendor response. The body is
// included in the message for operator context but never parsed beyond a
// quota marker check.
func classifyStatusError(provider string, resp *http.Response, body []byte) *types.GatewayError {
	msg := fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 512))

	switch {
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusForbidden && quotaMarker(body),
		resp.StatusCode == http.StatusTooManyRequests && quotaMarker(body):
		// OpenAI reports exhausted quota as a 429 with an insufficient_quota
		// marker; that is not retryable throttling.
		return types.NewGatewayError(types.ErrQuotaExceeded, provider, msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		ge := types.NewGatewayError(types.ErrRateLimit, provider, msg, nil)
		ge.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return ge
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return types.NewGatewayError(types.ErrInvalidRequest, provider, msg, nil)
	case resp.StatusCode >= 500:
		return types.NewGatewayError(types.ErrAPI, provider, msg, nil)
	default:
		return types.NewGatewayError(types.ErrAPI, provider, msg, nil)
	}
}

// quotaMarker reports whether an error body looks like a billing/plan limit
// rather than transient throttling.
func quotaMarker(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "insufficient_quota") ||
		strings.Contains(s, "billing") ||
		strings.Contains(s, "credit balance")
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
