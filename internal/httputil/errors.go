package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/af-corp/meridian-gateway/internal/types"
)

// APIError matches the OpenAI error response format.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message       string `json:"message"`
	Type          string `json:"type"`
	Code          string `json:"code"`
	MeridianReqID string `json:"meridian_request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Message:       message,
			Type:          errType,
			Code:          code,
			MeridianReqID: requestID,
		},
	})
}

// WriteGatewayError renders a canonical gateway error. RATE_LIMIT denials set
// the Retry-After header so callers can schedule a retry.
func WriteGatewayError(w http.ResponseWriter, requestID string, err error) {
	ge := types.AsGatewayError(err)

	switch ge.Kind {
	case types.ErrRateLimit:
		if ge.RetryAfter > 0 {
			secs := int(ge.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", ge.Message)
	case types.ErrInvalidRequest:
		WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", ge.Message)
	case types.ErrQuotaExceeded:
		WriteError(w, requestID, http.StatusPaymentRequired, "quota_error", "quota_exceeded", ge.Message)
	case types.ErrNetwork:
		WriteError(w, requestID, http.StatusBadGateway, "provider_error", "network_error", ge.Message)
	default:
		WriteError(w, requestID, http.StatusBadGateway, "provider_error", "api_error", ge.Message)
	}
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", "invalid_api_key", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

func WriteNotFoundError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusNotFound, "invalid_request_error", "not_found", message)
}
