package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Worker-turn error codes
const (
	ErrAmbiguousOutcome ErrorCode = "AMBIGUOUS_OUTCOME"
	ErrInvalidHandoff   ErrorCode = "INVALID_HANDOFF"
	ErrUnknownWorker    ErrorCode = "UNKNOWN_WORKER"
	ErrTurnTimeout      ErrorCode = "TURN_TIMEOUT"
)

// Execution-level error codes
const (
	ErrExecutionTimeout    ErrorCode = "EXECUTION_TIMEOUT"
	ErrRepetitiveHandoff   ErrorCode = "REPETITIVE_HANDOFF"
	ErrMaxHandoffsExceeded ErrorCode = "MAX_HANDOFFS_EXCEEDED"
	ErrExecutionNotFound   ErrorCode = "EXECUTION_NOT_FOUND"
	ErrNotSuspended        ErrorCode = "NOT_SUSPENDED"
	ErrExecutionCancelled  ErrorCode = "EXECUTION_CANCELLED"
	ErrInvalidTransition   ErrorCode = "INVALID_TRANSITION"
)

// Capability error codes
const (
	ErrCapabilityError    ErrorCode = "CAPABILITY_ERROR"
	ErrCapabilityNotFound ErrorCode = "CAPABILITY_NOT_FOUND"
	ErrCapabilityDenied   ErrorCode = "CAPABILITY_DENIED"
	ErrSandboxViolation   ErrorCode = "SANDBOX_VIOLATION"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
)

// Generic error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrStoreError     ErrorCode = "STORE_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Worker     string    `json:"worker,omitempty"`
	Capability string    `json:"capability,omitempty"`
	Cause      error     `json:"-"`
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

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithWorker records the worker whose turn produced the error.
func (e *Error) WithWorker(worker string) *Error {
	e.Worker = worker
	return e
}

// WithCapability records the offending capability name.
func (e *Error) WithCapability(name string) *Error {
	e.Capability = name
	return e
}

// AsError extracts a *Error from err's chain, or wraps err as INTERNAL_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(ErrInternalError, err.Error()).WithCause(err)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
