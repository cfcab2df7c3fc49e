package errors

import (
	stderrors "errors"
	"fmt"
)

// RetrievalError is the structured error type for the retrieval service.
// It carries the code, category, and retryability classification that the
// lifecycle coordinator and HTTP layer use to decide between rejecting,
// retrying with backoff, and failing loudly.
type RetrievalError struct {
	// Code is the unique error code (e.g., "ERR_301_INDEX_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Validation, Index, Embedding, ...).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is() against taxonomy sentinels.
func (e *RetrievalError) Is(target error) bool {
	if t, ok := target.(*RetrievalError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RetrievalError) WithDetail(key, value string) *RetrievalError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new RetrievalError with the given code and message.
// Category, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *RetrievalError {
	return &RetrievalError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RetrievalError from an existing error.
// The error's message becomes the RetrievalError message.
func Wrap(code string, err error) *RetrievalError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Validation creates a validation error (malformed artifact or request).
// Validation errors are rejected immediately and never retried.
func Validation(message string, cause error) *RetrievalError {
	return New(ErrCodeValidation, message, cause)
}

// IndexUnavailable creates an index backend error. Retryable with backoff.
func IndexUnavailable(message string, cause error) *RetrievalError {
	return New(ErrCodeIndexUnavailable, message, cause)
}

// InvalidFilter creates a malformed tenant/type filter error.
// Rejected immediately, no retry.
func InvalidFilter(message string, cause error) *RetrievalError {
	return New(ErrCodeInvalidFilter, message, cause)
}

// NotFound creates a missing-entity error.
func NotFound(message string, cause error) *RetrievalError {
	return New(ErrCodeEntityNotFound, message, cause)
}

// EmbeddingFailed creates an external embedding capability error.
// Retryable with backoff; if retries exhaust, the write is queued as stale.
func EmbeddingFailed(message string, cause error) *RetrievalError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// TenantIsolation creates a tenant isolation violation. These are never
// expected: a filter somehow permitted cross-tenant access. Fatal severity,
// surfaced loudly rather than silently returning wrong results.
func TenantIsolation(message string) *RetrievalError {
	return New(ErrCodeTenantIsolation, message, nil)
}

// Internal creates an unexpected internal error.
func Internal(message string, cause error) *RetrievalError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err wraps a RetrievalError with the Retryable
// flag set. Plain errors are conservatively not retried.
func IsRetryable(err error) bool {
	var re *RetrievalError
	if stderrors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity. Fatal errors must abort
// the current operation and alert.
func IsFatal(err error) bool {
	var re *RetrievalError
	if stderrors.As(err, &re) {
		return re.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a wrapped RetrievalError.
// Returns empty string for plain errors.
func GetCode(err error) string {
	var re *RetrievalError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetCategory extracts the category from a wrapped RetrievalError.
// Returns empty string for plain errors.
func GetCategory(err error) Category {
	var re *RetrievalError
	if stderrors.As(err, &re) {
		return re.Category
	}
	return ""
}
