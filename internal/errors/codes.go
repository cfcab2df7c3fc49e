// Package errors provides the structured error taxonomy for the retrieval
// service.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Validation errors (reject, never retried)
//   - 2XX: Not-found errors
//   - 3XX: Index backend errors (retry with backoff)
//   - 4XX: Embedding capability errors (retry with backoff)
//   - 5XX: Isolation and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryValidation indicates malformed input or artifacts.
	CategoryValidation Category = "VALIDATION"
	// CategoryNotFound indicates a missing entity or record.
	CategoryNotFound Category = "NOT_FOUND"
	// CategoryIndex indicates vector index backend errors.
	CategoryIndex Category = "INDEX"
	// CategoryEmbedding indicates external embedding capability errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryIsolation indicates tenant isolation violations.
	CategoryIsolation Category = "ISOLATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort and alert.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Validation errors (100-199). Never retried.
	ErrCodeValidation    = "ERR_101_VALIDATION"
	ErrCodeEmptyContent  = "ERR_102_EMPTY_CONTENT"
	ErrCodeMissingTenant = "ERR_103_MISSING_TENANT"
	ErrCodeInvalidType   = "ERR_104_INVALID_ENTITY_TYPE"
	ErrCodeInvalidFilter = "ERR_105_INVALID_FILTER"
	ErrCodeInvalidQuery  = "ERR_106_INVALID_QUERY"

	// Not-found errors (200-299).
	ErrCodeEntityNotFound = "ERR_201_ENTITY_NOT_FOUND"

	// Index backend errors (300-399). Retryable.
	ErrCodeIndexUnavailable = "ERR_301_INDEX_UNAVAILABLE"
	ErrCodeIndexCorrupt     = "ERR_302_INDEX_CORRUPT"

	// Embedding errors (400-499). Retryable.
	ErrCodeEmbeddingFailed      = "ERR_401_EMBEDDING_FAILED"
	ErrCodeEmbeddingUnavailable = "ERR_402_EMBEDDING_UNAVAILABLE"
	ErrCodeDimensionMismatch    = "ERR_403_DIMENSION_MISMATCH"

	// Isolation and internal errors (500-599).
	ErrCodeTenantIsolation = "ERR_501_TENANT_ISOLATION"
	ErrCodeInternal        = "ERR_502_INTERNAL"
	ErrCodeStoreClosed     = "ERR_503_STORE_CLOSED"
)

// categoryFromCode extracts category from the numeric portion of an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryValidation
	case '2':
		return CategoryNotFound
	case '3':
		return CategoryIndex
	case '4':
		return CategoryEmbedding
	case '5':
		if code == ErrCodeTenantIsolation {
			return CategoryIsolation
		}
		return CategoryInternal
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeTenantIsolation, ErrCodeIndexCorrupt:
		// Isolation violations are never expected and must fail loudly.
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode reports whether an error code represents a transient
// failure worth retrying. Validation and isolation errors are never retried.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeIndexUnavailable,
		ErrCodeEmbeddingFailed,
		ErrCodeEmbeddingUnavailable:
		return true
	}
	return false
}
