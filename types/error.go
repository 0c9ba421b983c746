package types

import (
	"fmt"
	"time"
)

// ErrorCode is the closed, discriminated error taxonomy surfaced to callers
// of the coordination core. Every error produced by the limiter, retry
// engine, cache, breaker, batcher, scheduler, and provider adapters carries
// exactly one of these codes.
type ErrorCode string

const (
	// ErrInvalidInput means the brief or request violated a constraint before any call was attempted. Never retried.
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrAuthentication means the provider rejected our credentials. Fatal, counted against the breaker.
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	// ErrAuthorization means the credential is valid but lacks permission for the call. Fatal, counted against the breaker.
	ErrAuthorization ErrorCode = "AUTHORIZATION"
	// ErrRateLimited means the provider itself rejected the call for exceeding its quota. Retried with backoff.
	ErrRateLimited ErrorCode = "RATE_LIMITED"
	// ErrTimeout means the request's total deadline elapsed before a response arrived. Fatal for that call.
	ErrTimeout ErrorCode = "TIMEOUT"
	// ErrNetwork means a transient transport failure occurred (connection reset, DNS, etc). Retryable.
	ErrNetwork ErrorCode = "NETWORK"
	// ErrUpstream5xx means the provider returned a 5xx response. Retryable.
	ErrUpstream5xx ErrorCode = "UPSTREAM_5XX"
	// ErrParseInvalid means the response body could not be parsed into the expected shape. Retried at most once.
	ErrParseInvalid ErrorCode = "PARSE_INVALID"
	// ErrBreakerOpen means the call was refused locally by an open circuit breaker without reaching the provider.
	ErrBreakerOpen ErrorCode = "BREAKER_OPEN"
	// ErrCancelled means the caller's context was cancelled. Never retried.
	ErrCancelled ErrorCode = "CANCELLED"
	// ErrCleanup means the coordinator was shut down while the request was still in flight. Never retried.
	ErrCleanup ErrorCode = "CLEANUP"
	// ErrValidationFailed means a generated persona draft failed domain validation. Retried at most once with a corrective prompt.
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"

	// The codes below are the generic LLM-provider-level vocabulary used by
	// the llm package's multi-provider abstraction (llm.Provider and its
	// providers/* implementations), which predates and is broader than the
	// coordination core's taxonomy above. translateProviderError in
	// llm/persona.go narrows these down to the core taxonomy before a
	// failure reaches the scheduler.
	ErrInvalidRequest      ErrorCode = "invalid_request"
	ErrUnauthorized        ErrorCode = "unauthorized"
	ErrForbidden           ErrorCode = "forbidden"
	ErrRateLimit           ErrorCode = "rate_limit"
	ErrQuotaExceeded       ErrorCode = "quota_exceeded"
	ErrModelNotFound       ErrorCode = "model_not_found"
	ErrModelOverloaded     ErrorCode = "model_overloaded"
	ErrContextTooLong      ErrorCode = "context_too_long"
	ErrContentFiltered     ErrorCode = "content_filtered"
	ErrUpstreamError       ErrorCode = "upstream_error"
	ErrUpstreamTimeout     ErrorCode = "upstream_timeout"
	ErrInternalError       ErrorCode = "internal_error"
	ErrServiceUnavailable  ErrorCode = "service_unavailable"
	ErrProviderUnavailable ErrorCode = "provider_unavailable"
)

// Error is a structured error carrying the full remediation context: kind,
// the provider's own error code (if any), how many attempts had been made,
// how long the caller had already waited across those attempts, and a short
// hint for operators.
type Error struct {
	Code           ErrorCode     `json:"code"`
	Message        string        `json:"message"`
	HTTPStatus     int           `json:"http_status,omitempty"`
	Retryable      bool          `json:"retryable"`
	Provider       string        `json:"provider,omitempty"`
	ProviderCode   string        `json:"provider_code,omitempty"`
	Attempt        int           `json:"attempt,omitempty"`
	CumulativeWait time.Duration `json:"cumulative_wait,omitempty"`
	Hint           string        `json:"hint,omitempty"`
	Cause          error         `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: DefaultRetryable(code)}
}

// WithCause attaches the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus records the HTTP status the provider responded with.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable overrides the default retryability for this error instance.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider records which provider produced the error.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithProviderCode records the provider's own error code or string, if any.
func (e *Error) WithProviderCode(code string) *Error {
	e.ProviderCode = code
	return e
}

// WithAttempt records how many producer invocations had been made when this
// error was surfaced.
func (e *Error) WithAttempt(n int) *Error {
	e.Attempt = n
	return e
}

// WithCumulativeWait records the total time spent on admission and backoff
// waits across all attempts before this error was surfaced.
func (e *Error) WithCumulativeWait(d time.Duration) *Error {
	e.CumulativeWait = d
	return e
}

// WithHint attaches a short remediation hint for operators.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// IsRetryable reports whether err is a *Error marked retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the ErrorCode from err, or "" if err is not a *Error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// DefaultRetryable reports whether the taxonomy classifies code as
// retryable by default. NewError uses this to seed Retryable; callers that
// need a different classification for a specific instance use WithRetryable.
func DefaultRetryable(code ErrorCode) bool {
	switch code {
	case ErrRateLimited, ErrNetwork, ErrUpstream5xx, ErrParseInvalid, ErrValidationFailed,
		ErrRateLimit, ErrUpstreamError, ErrUpstreamTimeout, ErrServiceUnavailable, ErrProviderUnavailable, ErrModelOverloaded:
		return true
	default:
		return false
	}
}

// Hint returns a short, stable remediation hint for a code when the caller
// has not set a more specific one via WithHint.
func Hint(code ErrorCode) string {
	switch code {
	case ErrAuthentication, ErrAuthorization:
		return "check provider credentials"
	case ErrRateLimited:
		return "back off and reduce request rate"
	case ErrBreakerOpen:
		return "endpoint is unhealthy, wait for cooldown"
	case ErrTimeout:
		return "increase deadline or investigate upstream latency"
	case ErrUpstream5xx, ErrNetwork:
		return "transient upstream failure, retry later"
	case ErrParseInvalid:
		return "provider response shape changed, inspect payload"
	case ErrValidationFailed:
		return "generated content failed validation rules"
	default:
		return ""
	}
}
