package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := New(ErrCategoryType, CodeUnknownDimension, "unknown dimension z")
	expected := "[TYPE:UNKNOWN_DIMENSION] unknown dimension z"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryConnection, CodeUnavailable, "5 attempts", cause)
	expected := "[CONNECTION:UNAVAILABLE] 5 attempts: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := Wrap(ErrCategoryQuery, CodeFailed, "select 1", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err1 := New(ErrCategoryType, CodeMixedAddressing, "a[80, x(*:*)]")
	err2 := New(ErrCategoryType, CodeMixedAddressing, "other text")
	err3 := New(ErrCategoryType, CodeUnknownDimension, "different code")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err1), ErrMixedAddressing) {
		t.Error("wrapped error should match its sentinel")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryConnection, CodeNoFreeServer, true},
		{ErrCategoryConnection, CodeConnectionRefused, true},
		{ErrCategoryConnection, CodeUnavailable, false},
		{ErrCategoryQuery, CodeFailed, false},
		{ErrCategoryQuery, CodeOverload, false},
		{ErrCategoryQuery, CodeObjectNotFound, false},
		{ErrCategoryType, CodeMixedAddressing, false},
		{ErrCategoryType, CodeDimensionalityMismatch, false},
		{ErrCategoryStorage, CodeUploadFailed, true},
		{ErrCategoryStorage, CodeObjectNotFound, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		err := New(tt.category, tt.code, "test")
		if IsRetryable(err) != tt.retryable {
			t.Errorf("%s:%s retryable=%v, want %v", tt.category, tt.code, IsRetryable(err), tt.retryable)
		}
	}
}

func TestGetCategory(t *testing.T) {
	err := New(ErrCategoryQuery, CodeParseError, "bad rasql")
	if GetCategory(err) != ErrCategoryQuery {
		t.Errorf("got %q, want %q", GetCategory(err), ErrCategoryQuery)
	}
	if GetCategory(fmt.Errorf("plain error")) != "" {
		t.Error("plain error should return empty category")
	}
}

func TestGetCode(t *testing.T) {
	err := New(ErrCategoryQuery, CodeParseError, "bad rasql")
	if GetCode(err) != CodeParseError {
		t.Errorf("got %q, want %q", GetCode(err), CodeParseError)
	}
	if GetCode(fmt.Errorf("plain error")) != "" {
		t.Error("plain error should return empty code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(ErrCategoryConnection, CodeUnavailable, "unavailable")
	detailed := err.WithDetails(map[string]interface{}{"attempts": 5})

	if detailed.Details["attempts"] != 5 {
		t.Error("WithDetails should set details")
	}
	if err.Details != nil {
		t.Error("WithDetails should not modify original")
	}
	v, ok := GetDetail(fmt.Errorf("outer: %w", detailed), "attempts")
	if !ok || v != 5 {
		t.Errorf("GetDetail = %v, %v", v, ok)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	cause := fmt.Errorf("io error")

	ty := NewTypeError(CodeInvalidSubsetIndexType, "boolean index")
	if ty.Category != ErrCategoryType || ty.Code != CodeInvalidSubsetIndexType {
		t.Error("NewTypeError mismatch")
	}

	c := NewConnectionError(CodeNoFreeServer, "busy", cause)
	if c.Category != ErrCategoryConnection || !c.Retryable || !errors.Is(c, cause) {
		t.Error("NewConnectionError mismatch")
	}

	q := NewQueryError(CodeClientBug, "select 1", nil)
	if q.Category != ErrCategoryQuery || q.Cause != nil {
		t.Error("NewQueryError mismatch")
	}

	s := NewStorageError(CodeUploadFailed, "s3 down", cause)
	if s.Category != ErrCategoryStorage || !errors.Is(s, cause) {
		t.Error("NewStorageError mismatch")
	}

	v := NewValidationError(CodeInvalidConfig, "port")
	if v.Category != ErrCategoryValidation {
		t.Error("NewValidationError mismatch")
	}

	i := NewInternalError("unexpected", cause)
	if i.Category != ErrCategoryInternal || i.Code != CodeUnexpected {
		t.Error("NewInternalError mismatch")
	}
}
