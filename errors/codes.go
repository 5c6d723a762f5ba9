package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Transport errors (retryable)
const (
	// ErrCodeNetwork indicates the request never produced a response (refused, reset, DNS).
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates the remote API rejected the call with a rate-limit response.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeOverloaded indicates the remote API is at capacity.
	ErrCodeOverloaded ErrorCode = "OVERLOADED"
	// ErrCodeServer indicates a generic 5xx response.
	ErrCodeServer ErrorCode = "SERVER_ERROR"
)

// Request errors (never retried)
const (
	// ErrCodeInvalidRequest indicates the remote API rejected the request payload.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrCodeUnauthorized indicates missing or invalid credentials.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeForbidden indicates the credentials lack permission.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	// ErrCodeNotFound indicates the requested resource does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// Runtime errors raised locally
const (
	// ErrCodeDecode indicates a single malformed stream frame.
	ErrCodeDecode ErrorCode = "DECODE_ERROR"
	// ErrCodeQuotaExceeded indicates the dispatch gate's rolling quota is full.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrCodeAborted indicates the caller cancelled the operation.
	ErrCodeAborted ErrorCode = "ABORTED"
	// ErrCodeStreamTimeout indicates a stream consumer exceeded its wall-clock budget.
	ErrCodeStreamTimeout ErrorCode = "STREAM_TIMEOUT"
	// ErrCodeInternal indicates a bug or an unexpected local failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeNetwork:     true,
	ErrCodeTimeout:     true,
	ErrCodeRateLimited: true,
	ErrCodeOverloaded:  true,
	ErrCodeServer:      true,
}

// IsRetryableCode returns true if the error code indicates a transient failure.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}

// TransientCodes returns the codes that are retryable by default.
func TransientCodes() []ErrorCode {
	return []ErrorCode{
		ErrCodeNetwork,
		ErrCodeTimeout,
		ErrCodeRateLimited,
		ErrCodeOverloaded,
		ErrCodeServer,
	}
}
