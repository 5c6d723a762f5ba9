// Package errors defines the closed error taxonomy of the streaming client
// runtime.
//
// Every failure the runtime surfaces is an *AppError tagged with an
// ErrorCode, an explicit Retryable flag and, for failures that came back
// from the remote API, the HTTP status code. Callers branch on the code
// (IsAborted, IsQuotaExceeded, CodeOf, ...) rather than on concrete types, and
// the retry engine classifies errors with the same fields.
package errors
