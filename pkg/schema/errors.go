package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeScheduling     = "SCHEDULING_ERROR"
	ErrCodeNavigation     = "NAVIGATION_ERROR"
	ErrCodeAction         = "ACTION_ERROR"
	ErrCodeHandler        = "HANDLER_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeCircuitOpen    = "CIRCUIT_OPEN"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodePolicyDenied   = "POLICY_DENIED"
	ErrCodeInvalidState   = "INVALID_TRANSITION"
)

// FlowError is the structured error type for all tabflow operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *FlowError) WithStep(stepID string) *FlowError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// IsRetryable reports whether a failure with this code may succeed on a later attempt.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeScheduling,
		ErrCodePolicyDenied, ErrCodeInvalidState, ErrCodeAction, ErrCodeCircuitOpen:
		return false
	}
	return true
}

// IsCode reports whether err is (or wraps) a FlowError with the given code.
func IsCode(err error, code string) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// AsFlowError converts any error into a FlowError, wrapping foreign errors
// under the fallback code.
func AsFlowError(err error, fallbackCode string) *FlowError {
	if err == nil {
		return nil
	}
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return NewError(fallbackCode, err.Error()).WithCause(err)
}
