// Package domain defines the gateway's request model and its canonical
// error taxonomy. Provider adapters classify failures into a *Error at the
// boundary, so the rest of the gateway matches on structured codes instead
// of error-message contents.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable error class surfaced to callers.
type Code string

const (
	CodeProviderConfig        Code = "provider_config_error"
	CodeSchemaValidation      Code = "schema_validation_error"
	CodeInvalidProviderConfig Code = "invalid_provider_config"
	CodeRateLimited           Code = "rate_limited"
	CodeUnauthorized          Code = "unauthorized"
	CodeProviderUnavailable   Code = "provider_unavailable"
	CodeGenerationFailed      Code = "generation_failed"
)

// ErrCircuitBreakerOpen is returned when a guarded operation is failed fast
// without being invoked.
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// Error is a normalized gateway failure. It carries everything the HTTP
// layer needs to build the response envelope and everything the fallback
// policy needs to decide eligibility. The wrapped cause never reaches the
// caller.
type Error struct {
	Code      Code
	Status    int
	Message   string
	Provider  string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (provider=%s): %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause attaches the underlying error for logging without exposing it
// in the response envelope.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// NewProviderConfigError reports missing or unusable provider credentials.
// The provider is always named so the failure is attributable.
func NewProviderConfigError(provider, reason string) *Error {
	return &Error{
		Code:     CodeProviderConfig,
		Status:   http.StatusBadRequest,
		Message:  fmt.Sprintf("provider %s: %s", provider, reason),
		Provider: provider,
	}
}

// NewSchemaValidationError reports a request that failed ingress validation.
func NewSchemaValidationError(reason string) *Error {
	return &Error{
		Code:    CodeSchemaValidation,
		Status:  http.StatusBadRequest,
		Message: reason,
	}
}

// NewInvalidProviderConfigError reports malformed credential material, such
// as an unparseable service-account JSON blob.
func NewInvalidProviderConfigError(provider, reason string) *Error {
	return &Error{
		Code:     CodeInvalidProviderConfig,
		Status:   http.StatusBadRequest,
		Message:  reason,
		Provider: provider,
	}
}

// NewGenerationError reports a provider call that failed for a reason that
// has no more specific classification.
func NewGenerationError(provider, reason string) *Error {
	return &Error{
		Code:      CodeGenerationFailed,
		Status:    http.StatusInternalServerError,
		Message:   reason,
		Provider:  provider,
		Retryable: true,
	}
}

// FromUpstreamStatus classifies a non-2xx provider HTTP status into the
// canonical taxonomy. The upstream response body is kept as message text
// only; it is truncated by the adapter before it gets here.
func FromUpstreamStatus(provider string, status int, message string) *Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{
			Code:     CodeUnauthorized,
			Status:   http.StatusUnauthorized,
			Message:  message,
			Provider: provider,
		}
	case http.StatusTooManyRequests:
		return &Error{
			Code:      CodeRateLimited,
			Status:    http.StatusTooManyRequests,
			Message:   message,
			Provider:  provider,
			Retryable: true,
		}
	case http.StatusServiceUnavailable, 529:
		return &Error{
			Code:      CodeProviderUnavailable,
			Status:    http.StatusServiceUnavailable,
			Message:   message,
			Provider:  provider,
			Retryable: true,
		}
	}

	out := &Error{
		Code:     CodeGenerationFailed,
		Status:   http.StatusInternalServerError,
		Message:  message,
		Provider: provider,
	}
	if status >= 400 {
		out.Status = status
	}
	if status >= 500 {
		out.Retryable = true
	}
	return out
}

// Classify normalizes an arbitrary error into a *Error. Already-classified
// errors pass through unchanged; a tripped circuit breaker becomes
// provider_unavailable; everything else is generation_failed.
func Classify(err error, provider string) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return &Error{
			Code:      CodeProviderUnavailable,
			Status:    http.StatusServiceUnavailable,
			Message:   "provider temporarily unavailable",
			Provider:  provider,
			Retryable: true,
			cause:     err,
		}
	}
	return &Error{
		Code:      CodeGenerationFailed,
		Status:    http.StatusInternalServerError,
		Message:   "generation failed",
		Provider:  provider,
		Retryable: true,
		cause:     err,
	}
}

// ErrorDetails is the optional correlation block of the response envelope.
// It never contains stack traces or credential values.
type ErrorDetails struct {
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorEnvelope is the stable JSON error shape returned to callers.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    Code          `json:"code"`
	Message string        `json:"message"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// Envelope builds the response envelope for this error.
func (e *Error) Envelope(details *ErrorDetails) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}}
}
