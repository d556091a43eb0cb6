package utils

import (
	"errors"
	"fmt"
)

// Error kinds returned by the monitoring core. Callers match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingComment    = errors.New("missing comment")
	ErrMissingRootCause  = errors.New("missing root cause")
	ErrValidation        = errors.New("validation error")
	// ErrConflict is raised by storage when a uniqueness guard rejects a write.
	ErrConflict = errors.New("conflict")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NotFound builds an AppError of kind ErrNotFound.
func NotFound(op, format string, args ...any) error {
	return NewAppError(op, fmt.Sprintf(format, args...), ErrNotFound)
}

// Invalid builds an AppError of kind ErrValidation.
func Invalid(op, format string, args ...any) error {
	return NewAppError(op, fmt.Sprintf(format, args...), ErrValidation)
}

// Message returns the human-facing part of err, falling back to err.Error().
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Msg != "" {
		return appErr.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrorCode maps an error to the stable wire code reported to callers.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrMissingComment):
		return "MISSING_COMMENT"
	case errors.Is(err, ErrMissingRootCause):
		return "MISSING_ROOT_CAUSE"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
