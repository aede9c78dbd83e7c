package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a gateway failure independent of the vendor that
// produced it.
type ErrorKind string

const (
	ErrRateLimit      ErrorKind = "RATE_LIMIT"
	ErrInvalidRequest ErrorKind = "INVALID_REQUEST"
	ErrQuotaExceeded  ErrorKind = "QUOTA_EXCEEDED"
	ErrNetwork        ErrorKind = "NETWORK_ERROR"
	ErrAPI            ErrorKind = "API_ERROR"
)

// Retryable reports whether a failure of this kind is safe to retry without
// operator action.
func (k ErrorKind) Retryable() bool {
	return k == ErrRateLimit || k == ErrNetwork
}

// GatewayError is the single typed error surfaced to callers. Provider
// adapters translate vendor failures into this type before returning; the
// orchestrator never sees a vendor-specific error.
type GatewayError struct {
	Kind     ErrorKind
	Provider string
	Message  string

	// RetryAfter is set only for ErrRateLimit.
	RetryAfter time.Duration

	wrapped error
}

func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.wrapped }

// NewGatewayError builds a GatewayError wrapping cause (which may be nil).
func NewGatewayError(kind ErrorKind, provider, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Provider: provider, Message: message, wrapped: cause}
}

// NewRateLimitError builds a RATE_LIMIT error carrying the time until the
// caller may retry.
func NewRateLimitError(provider string, retryAfter time.Duration) *GatewayError {
	return &GatewayError{
		Kind:       ErrRateLimit,
		Provider:   provider,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

// AsGatewayError unwraps err to a *GatewayError. Unclassified errors are
// reported as API_ERROR so callers always see exactly one typed error.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return &GatewayError{Kind: ErrAPI, Message: err.Error(), wrapped: err}
}

// KindOf returns the canonical kind of err.
func KindOf(err error) ErrorKind {
	return AsGatewayError(err).Kind
}
