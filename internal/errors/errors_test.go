package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestOrganizerError_Error(t *testing.T) {
	err := &OrganizerError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "template not found",
	}

	expected := "NOT_FOUND: template not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("period_days must be positive")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "period_days must be positive" {
		t.Errorf("Message = %q, want %q", err.Message, "period_days must be positive")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("prompt", "p1")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "p1" {
		t.Errorf("Details[identifier] = %v, want %q", err.Details["identifier"], "p1")
	}
}

func TestNewNoQualifyingPrompts(t *testing.T) {
	err := NewNoQualifyingPrompts(30, 2)

	if err.Code != ErrNoQualifyingPrompts {
		t.Errorf("Code = %q, want %q", err.Code, ErrNoQualifyingPrompts)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if err.Details["period_days"] != 30 {
		t.Errorf("Details[period_days] = %v, want 30", err.Details["period_days"])
	}
	if err.Retryable() {
		t.Error("filter errors should not be retryable")
	}
}

func TestNewPersistence_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewPersistence("save pending templates", cause)

	if err.Code != ErrPersistence {
		t.Errorf("Code = %q, want %q", err.Code, ErrPersistence)
	}
	if err.Message != "save pending templates: disk full" {
		t.Errorf("Message = %q", err.Message)
	}
	// Cause stays reachable through the wrapper
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if !err.Retryable() {
		t.Error("persistence errors should be retryable")
	}
}

func TestNewCancelled(t *testing.T) {
	err := NewCancelled()
	if err.Code != ErrCancelled {
		t.Errorf("Code = %q, want %q", err.Code, ErrCancelled)
	}
	if err.Retryable() {
		t.Error("cancellation is not a failure and should not be retryable")
	}
}

func TestNewTimeout_UnwrapsDeadline(t *testing.T) {
	err := NewTimeout("request timed out", context.DeadlineExceeded)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Error("errors.Is(context.DeadlineExceeded) = false, want true")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		// Message should be generic (not leak internal details)
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		// Original error should be stored in Details for logging
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)

		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		// Details should be empty but not nil
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		err := NewNotFound("prompt", "p1")
		if !Is(err, ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		err := NewNotFound("prompt", "p1")
		if Is(err, ErrNetwork) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("non-OrganizerError", func(t *testing.T) {
		err := fmt.Errorf("plain error")
		if Is(err, ErrNotFound) {
			t.Error("Is() = true, want false for non-OrganizerError")
		}
	})

	t.Run("wrapped OrganizerError", func(t *testing.T) {
		wrapped := fmt.Errorf("commit: %w", NewPersistence("save templates", nil))
		if !Is(wrapped, ErrPersistence) {
			t.Error("Is() = false, want true for wrapped OrganizerError")
		}
		if Is(wrapped, ErrNetwork) {
			t.Error("Is() = true, want false for wrong code on wrapped OrganizerError")
		}
	})
}
