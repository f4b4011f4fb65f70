package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound             = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden            = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized         = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict             = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed   = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation           = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal             = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss            = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrInvalidTransition    = New("INVALID_TRANSITION", http.StatusConflict, "invalid bulletin transition")
	ErrValidationIncomplete = New("VALIDATION_INCOMPLETE", http.StatusUnprocessableEntity, "term requirements not met")
	ErrNoChannels           = New("NO_CHANNELS", http.StatusBadRequest, "no notification channels configured")
)

// InvalidTransitionError describes a rejected lifecycle move.
type InvalidTransitionError struct {
	Current   string `json:"current"`
	Requested string `json:"requested"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s a bulletin in state %s", e.Requested, e.Current)
}

// NewInvalidTransition builds the INVALID_TRANSITION error for current state and requested transition.
func NewInvalidTransition(current, requested string) *Error {
	detail := &InvalidTransitionError{Current: current, Requested: requested}
	return &Error{
		Code:    ErrInvalidTransition.Code,
		Status:  ErrInvalidTransition.Status,
		Message: detail.Error(),
		Details: detail,
		Err:     detail,
	}
}

// ValidationIncompleteError lists subjects lacking a score for the requested term.
type ValidationIncompleteError struct {
	MissingSubjects []string `json:"missing_subjects"`
}

func (e *ValidationIncompleteError) Error() string {
	return "missing grades for: " + strings.Join(e.MissingSubjects, ", ")
}

// NewValidationIncomplete builds the VALIDATION_INCOMPLETE error carrying the missing subjects.
func NewValidationIncomplete(missing []string) *Error {
	detail := &ValidationIncompleteError{MissingSubjects: append([]string(nil), missing...)}
	return &Error{
		Code:    ErrValidationIncomplete.Code,
		Status:  ErrValidationIncomplete.Status,
		Message: ErrValidationIncomplete.Message,
		Details: detail,
		Err:     detail,
	}
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is matches errors by code so cloned errors still compare equal to their template.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}
