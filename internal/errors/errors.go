// Package errors provides structured error types for asqldb.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the stage that raised them.
type ErrorCategory string

const (
	ErrCategoryType       ErrorCategory = "TYPE"
	ErrCategoryConnection ErrorCategory = "CONNECTION"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Type codes, raised during type resolution
	CodeMixedAddressing        = "MIXED_ADDRESSING"
	CodeUnknownDimension       = "UNKNOWN_DIMENSION"
	CodeDimensionalityMismatch = "DIMENSIONALITY_MISMATCH"
	CodeInvalidSubsetIndexType = "INVALID_SUBSET_INDEX_TYPE"
	CodeDuplicateDimension     = "DUPLICATE_DIMENSION"
	CodeUnsupportedOperation   = "UNSUPPORTED_OPERATION"
	CodeUnknownColumn          = "UNKNOWN_COLUMN"

	// Connection codes
	CodeUnavailable       = "UNAVAILABLE"
	CodeNoFreeServer      = "NO_FREE_SERVER"
	CodeConnectionRefused = "CONNECTION_REFUSED"
	CodeCloseFailed       = "CLOSE_FAILED"

	// Query codes
	CodeFailed         = "FAILED"
	CodeOverload       = "OVERLOAD"
	CodeClientBug      = "CLIENT_BUG"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeParseError     = "PARSE_ERROR"
	CodeInvalidArrayID = "INVALID_ARRAY_ID"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Validation codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetDetail returns a single detail value from the first *Error in the chain.
func GetDetail(err error, key string) (interface{}, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Details != nil {
		v, ok := ae.Details[key]
		return v, ok
	}
	return nil, false
}

// isRetryable marks the transient conditions. Only a saturated array
// server and a refused connection are retried, both during session open.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryConnection && code == CodeNoFreeServer:
		return true
	case category == ErrCategoryConnection && code == CodeConnectionRefused:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewTypeError(code, message string) *Error {
	return New(ErrCategoryType, code, message)
}

func NewConnectionError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryConnection, code, message, cause)
}

func NewQueryError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryQuery, code, message, cause)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewValidationError(code, message string) *Error {
	return New(ErrCategoryValidation, code, message)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Sentinels for errors.Is comparisons. Only category and code are compared.
var (
	ErrMixedAddressing        = NewTypeError(CodeMixedAddressing, "")
	ErrUnknownDimension       = NewTypeError(CodeUnknownDimension, "")
	ErrDimensionalityMismatch = NewTypeError(CodeDimensionalityMismatch, "")
	ErrInvalidSubsetIndexType = NewTypeError(CodeInvalidSubsetIndexType, "")
	ErrUnavailable            = NewConnectionError(CodeUnavailable, "", nil)
	ErrQueryFailed            = NewQueryError(CodeFailed, "", nil)
	ErrOverload               = NewQueryError(CodeOverload, "", nil)
	ErrClientBug              = NewQueryError(CodeClientBug, "", nil)
	ErrObjectNotFound         = NewQueryError(CodeObjectNotFound, "", nil)
)
