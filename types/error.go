package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Configuration error codes
const (
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrFieldMissing     ErrorCode = "FIELD_MISSING"
	ErrInvalidReduction ErrorCode = "INVALID_REDUCTION"
)

// Data error codes
const (
	ErrDataInvalid ErrorCode = "DATA_INVALID"
	ErrEmptyBatch  ErrorCode = "EMPTY_BATCH"
	ErrShapeMismatch ErrorCode = "SHAPE_MISMATCH"
)

// Invariant error codes
const (
	ErrInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Workflow error codes
const (
	ErrWorkflowInvalid ErrorCode = "WORKFLOW_INVALID"
	ErrStepFailed      ErrorCode = "STEP_FAILED"
	ErrCircularDeps    ErrorCode = "CIRCULAR_DEPENDENCY"
)

// Infrastructure error codes
const (
	ErrStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	ErrBufferUnavailable ErrorCode = "BUFFER_UNAVAILABLE"
	ErrBufferEmpty       ErrorCode = "BUFFER_EMPTY"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns "" when err carries no structured code.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigError reports whether err is a configuration-class error.
func IsConfigError(err error) bool {
	switch GetErrorCode(err) {
	case ErrConfigInvalid, ErrFieldMissing, ErrInvalidReduction:
		return true
	}
	return false
}

// IsDataError reports whether err is a data-class error.
func IsDataError(err error) bool {
	switch GetErrorCode(err) {
	case ErrDataInvalid, ErrEmptyBatch, ErrShapeMismatch:
		return true
	}
	return false
}

// IsInvariantViolation reports whether err signals a broken internal
// invariant, which indicates an implementation bug rather than bad input.
func IsInvariantViolation(err error) bool {
	return GetErrorCode(err) == ErrInvariantViolation
}
