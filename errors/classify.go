package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
)

// StatusSiteOverloaded is the non-standard status some APIs use for capacity errors.
const StatusSiteOverloaded = 529

// ClassifyStatus converts an HTTP status code and response body into a typed error.
// Returns nil for 2xx status codes.
func ClassifyStatus(status int, body []byte) *AppError {
	msg := ParseErrorMessage(body)

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return Unauthorized(msg)
	case status == http.StatusForbidden:
		return Forbidden(msg)
	case status == http.StatusNotFound:
		return NotFound(msg)
	case status == http.StatusRequestTimeout:
		e := Timeout("request", nil)
		e.StatusCode = status
		if msg != "" {
			e.Message = msg
		}
		return e
	case status == http.StatusTooManyRequests:
		return RateLimited(msg)
	case status == http.StatusServiceUnavailable || status == StatusSiteOverloaded:
		return Overloaded(status, msg)
	case status >= 400 && status < 500:
		return InvalidRequest(status, msg)
	case status >= 500:
		return Server(status, msg)
	default:
		e := New(ErrCodeInternal, "unexpected HTTP status")
		e.StatusCode = status
		return e
	}
}

// apiErrorBody covers the common shapes of JSON error payloads:
// {"error":{"message":"..."}}, {"error":"..."} and {"message":"..."}.
type apiErrorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// ParseErrorMessage extracts a human-readable message from an error response body.
// Falls back to the trimmed raw body for non-JSON payloads.
func ParseErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return truncate(strings.TrimSpace(string(body)), 512)
	}
	if len(parsed.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(parsed.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(parsed.Error, &flat) == nil && flat != "" {
			return flat
		}
	}
	return parsed.Message
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost AppError in the chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	if e, ok := AsAppError(err); ok {
		return e.Code
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if e, ok := AsAppError(err); ok {
		return e.StatusCode
	}
	return 0
}

// IsRetryable checks if an error carries the retryable flag.
func IsRetryable(err error) bool {
	e, ok := AsAppError(err)
	return ok && e.Retryable
}

// IsContextError reports whether err is a context cancellation or deadline.
func IsContextError(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

func hasCode(err error, code ErrorCode) bool {
	e, ok := AsAppError(err)
	return ok && e.Code == code
}

// IsDecode checks if an error is a decode error.
func IsDecode(err error) bool { return hasCode(err, ErrCodeDecode) }

// IsNetwork checks if an error is a network error.
func IsNetwork(err error) bool { return hasCode(err, ErrCodeNetwork) }

// IsTimeout checks if an error is a transport timeout.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsRateLimited checks if an error is a remote rate-limit response.
func IsRateLimited(err error) bool { return hasCode(err, ErrCodeRateLimited) }

// IsQuotaExceeded checks if an error was raised by the dispatch gate's quota.
func IsQuotaExceeded(err error) bool { return hasCode(err, ErrCodeQuotaExceeded) }

// IsAborted checks if an error is a caller cancellation.
func IsAborted(err error) bool { return hasCode(err, ErrCodeAborted) }

// IsStreamTimeout checks if an error is a stream consumer timeout.
func IsStreamTimeout(err error) bool { return hasCode(err, ErrCodeStreamTimeout) }

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsAuth checks if an error is an authentication or authorization error.
func IsAuth(err error) bool {
	return hasCode(err, ErrCodeUnauthorized) || hasCode(err, ErrCodeForbidden)
}

// IsOverloaded checks if an error is a capacity error from the remote API.
func IsOverloaded(err error) bool { return hasCode(err, ErrCodeOverloaded) }

// IsServer checks if an error is a 5xx server error.
func IsServer(err error) bool { return hasCode(err, ErrCodeServer) }
