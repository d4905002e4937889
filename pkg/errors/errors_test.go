package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should find the cause through Unwrap")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestConstructors(t *testing.T) {
	cases := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad"), ErrCodeInvalidInput, 400},
		{"not found", NewNotFoundError("course"), ErrCodeNotFound, 404},
		{"unauthorized", NewUnauthorizedError("who"), ErrCodeUnauthorized, 401},
		{"forbidden", NewForbiddenError("no"), ErrCodeForbidden, 403},
		{"conflict", NewConflictError("dup"), ErrCodeConflict, 409},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, 429},
		{"storage", NewStorageError(errors.New("disk")), ErrCodeServiceUnavailable, 503},
		{"channel", NewChannelDeliveryError(errors.New("redis")), ErrCodeChannelDelivery, 502},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
			}
			if tc.err.HTTPStatus != tc.status {
				t.Errorf("HTTPStatus = %v, want %v", tc.err.HTTPStatus, tc.status)
			}
		})
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	err := NewNotFoundError("course")
	if err.Message != "course not found" {
		t.Errorf("Message = %q, want %q", err.Message, "course not found")
	}
}

func TestNewStorageError_HidesCauseInMessage(t *testing.T) {
	err := NewStorageError(errors.New("database is locked"))
	if strings.Contains(err.Message, "locked") {
		t.Errorf("Message leaks storage detail: %q", err.Message)
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("add member: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from a fmt-wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
	if result := GetAppError(nil); result != nil {
		t.Error("GetAppError(nil) should return nil")
	}
}

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewConflictError("user is already a member"))

	if !errors.Is(err, NewConflictError("")) {
		t.Error("errors.Is should match AppErrors with the same code")
	}
	if errors.Is(err, NewNotFoundError("")) {
		t.Error("errors.Is should not match AppErrors with a different code")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewForbiddenError("x")); got != ErrCodeForbidden {
		t.Errorf("CodeOf() = %v, want %v", got, ErrCodeForbidden)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf(plain) = %v, want %v", got, ErrCodeInternal)
	}
	if !HasCode(NewConflictError("x"), ErrCodeConflict) {
		t.Error("HasCode() should report a matching code")
	}
	if HasCode(nil, ErrCodeConflict) {
		t.Error("HasCode(nil) should be false")
	}
}
