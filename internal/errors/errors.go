package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an organizer error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"       // 400
	ErrConfiguration       ErrorCode = "CONFIGURATION_ERROR"   // 401 (missing API key)
	ErrNotFound            ErrorCode = "NOT_FOUND"             // 404
	ErrNoQualifyingPrompts ErrorCode = "NO_QUALIFYING_PROMPTS" // 422
	ErrCancelled           ErrorCode = "CANCELLED"             // 499
	ErrPersistence         ErrorCode = "PERSISTENCE_ERROR"     // 500
	ErrInternal            ErrorCode = "INTERNAL"              // 500
	ErrAPI                 ErrorCode = "API_ERROR"             // 502
	ErrGeneration          ErrorCode = "GENERATION_ERROR"      // 502
	ErrNetwork             ErrorCode = "NETWORK_ERROR"         // 503
	ErrTimeout             ErrorCode = "TIMEOUT"               // 504
)

// OrganizerError is the discriminated error returned across the organizer
// boundary. Nothing below the boundary leaks a different error type.
type OrganizerError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *OrganizerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *OrganizerError) Unwrap() error {
	return e.cause
}

// Retryable reports whether a manual rerun may succeed.
// No code path retries automatically.
func (e *OrganizerError) Retryable() bool {
	switch e.Code {
	case ErrNetwork, ErrAPI, ErrTimeout, ErrGeneration, ErrPersistence:
		return true
	}
	return false
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *OrganizerError {
	return &OrganizerError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewConfiguration creates a 401 error for missing or unusable credentials.
func NewConfiguration(msg string) *OrganizerError {
	return &OrganizerError{
		Code:    ErrConfiguration,
		Status:  401,
		Message: msg,
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(what, identifier string) *OrganizerError {
	return &OrganizerError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", what, identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewNoQualifyingPrompts creates a 422 error when the selection policy
// leaves nothing to organize.
func NewNoQualifyingPrompts(periodDays, minExecutionCount int) *OrganizerError {
	return &OrganizerError{
		Code:   ErrNoQualifyingPrompts,
		Status: 422,
		Message: fmt.Sprintf("no prompts executed at least %d times in the last %d days; lower the thresholds or widen the period",
			minExecutionCount, periodDays),
		Details: map[string]any{"period_days": periodDays, "min_execution_count": minExecutionCount},
	}
}

// NewCancelled creates a 499 error for a user-initiated abort.
func NewCancelled() *OrganizerError {
	return &OrganizerError{
		Code:    ErrCancelled,
		Status:  499,
		Message: "generation cancelled",
	}
}

// NewPersistence creates a 500 error for storage failures.
func NewPersistence(op string, err error) *OrganizerError {
	msg := op
	if err != nil {
		msg = fmt.Sprintf("%s: %v", op, err)
	}
	return &OrganizerError{
		Code:    ErrPersistence,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// NewAPI creates a 502 error carrying the provider's message.
func NewAPI(msg string, err error) *OrganizerError {
	return &OrganizerError{
		Code:    ErrAPI,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewGeneration creates a 502 error for a malformed model response.
func NewGeneration(msg string, err error) *OrganizerError {
	return &OrganizerError{
		Code:    ErrGeneration,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewNetwork creates a 503 error for transport failures.
func NewNetwork(msg string, err error) *OrganizerError {
	return &OrganizerError{
		Code:    ErrNetwork,
		Status:  503,
		Message: msg,
		cause:   err,
	}
}

// NewTimeout creates a 504 error.
func NewTimeout(msg string, err error) *OrganizerError {
	return &OrganizerError{
		Code:    ErrTimeout,
		Status:  504,
		Message: msg,
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *OrganizerError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &OrganizerError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error is an OrganizerError with the given code.
func Is(err error, code ErrorCode) bool {
	if oErr, ok := As(err); ok {
		return oErr.Code == code
	}
	return false
}

// As extracts an OrganizerError from err's chain.
func As(err error) (*OrganizerError, bool) {
	var oErr *OrganizerError
	if stderrors.As(err, &oErr) {
		return oErr, true
	}
	return nil, false
}
