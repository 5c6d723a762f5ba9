package errors

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is the unified error type of the runtime.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// StatusCode is the HTTP status the remote API answered with (0 when no response was received).
	StatusCode int `json:"status_code,omitempty"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (cause: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// HasStatus reports whether the error carries an HTTP status code.
func (e *AppError) HasStatus() bool { return e.StatusCode > 0 }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Transport errors ---

// Network creates a retryable error for a request that never produced a response.
func Network(cause error) *AppError {
	return &AppError{
		Code: ErrCodeNetwork, Message: "network failure", Retryable: true, Cause: cause,
	}
}

// Timeout creates a retryable error for a request that timed out.
func Timeout(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		Retryable: true, Cause: cause,
		Details: map[string]any{"operation": operation},
	}
}

// RateLimited creates a retryable error for a 429 response.
func RateLimited(message string) *AppError {
	if message == "" {
		message = "rate limit reached"
	}
	return &AppError{
		Code: ErrCodeRateLimited, Message: message,
		StatusCode: http.StatusTooManyRequests, Retryable: true,
	}
}

// Overloaded creates a retryable error for a capacity response.
func Overloaded(status int, message string) *AppError {
	if message == "" {
		message = "service overloaded"
	}
	return &AppError{
		Code: ErrCodeOverloaded, Message: message, StatusCode: status, Retryable: true,
	}
}

// Server creates a retryable error for a 5xx response.
func Server(status int, message string) *AppError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &AppError{
		Code: ErrCodeServer, Message: message, StatusCode: status, Retryable: true,
	}
}

// --- Request errors ---

// InvalidRequest creates a non-retryable error for a rejected request.
func InvalidRequest(status int, message string) *AppError {
	if message == "" {
		message = "invalid request"
	}
	return &AppError{
		Code: ErrCodeInvalidRequest, Message: message, StatusCode: status, Retryable: false,
	}
}

// Validation creates a non-retryable error for a request rejected before it was sent.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidRequest, Message: message, Retryable: false,
	}
}

// Unauthorized creates a non-retryable error for a 401 response.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code: ErrCodeUnauthorized, Message: message,
		StatusCode: http.StatusUnauthorized, Retryable: false,
	}
}

// Forbidden creates a non-retryable error for a 403 response.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "permission denied"
	}
	return &AppError{
		Code: ErrCodeForbidden, Message: message,
		StatusCode: http.StatusForbidden, Retryable: false,
	}
}

// NotFound creates a non-retryable error for a 404 response.
func NotFound(message string) *AppError {
	if message == "" {
		message = "resource not found"
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: message,
		StatusCode: http.StatusNotFound, Retryable: false,
	}
}

// --- Runtime errors ---

// Decode creates an error for a stream frame that could not be parsed.
func Decode(line string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeDecode, Message: "malformed stream frame", Retryable: false,
		Details: map[string]any{"line": line}, Cause: cause,
	}
}

// QuotaExceeded creates an error for a submission rejected by the dispatch gate.
func QuotaExceeded(gate string, limit int) *AppError {
	return &AppError{
		Code: ErrCodeQuotaExceeded, Message: fmt.Sprintf("request quota of %d per window exhausted", limit),
		Retryable: false,
		Details:   map[string]any{"gate": gate, "limit": limit},
	}
}

// Aborted creates an error for an operation cancelled by the caller.
func Aborted(cause error) *AppError {
	return &AppError{
		Code: ErrCodeAborted, Message: "operation aborted", Retryable: false, Cause: cause,
	}
}

// StreamTimeout creates an error for a stream consumer that ran out of time.
func StreamTimeout(limit time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeStreamTimeout, Message: fmt.Sprintf("stream not completed within %s", limit),
		Retryable: false,
	}
}

// Internal creates a non-retryable error for an unexpected local failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "unexpected client failure", Retryable: false, Cause: cause,
	}
}
