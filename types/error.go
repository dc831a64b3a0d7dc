package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a stream contract violation.
type ErrorCode string

// Stream error codes
const (
	// ErrState is returned when an operation is invalid for the current
	// controller or reader state, e.g. enqueue after close.
	ErrState ErrorCode = "STATE_ERROR"
	// ErrRange is returned when a byte count falls outside a destination's
	// capacity or leaves a fractional element at final resolution.
	ErrRange ErrorCode = "RANGE_ERROR"
	// ErrType is returned for invalid, detached or zero-length view arguments
	// and for lock misuse.
	ErrType ErrorCode = "TYPE_ERROR"
	// ErrProtocol is returned when a BYOB request handle is used after it
	// was invalidated.
	ErrProtocol ErrorCode = "PROTOCOL_ERROR"
)

// Connector error codes
const (
	ErrConnector ErrorCode = "CONNECTOR_ERROR"
	ErrTimeout   ErrorCode = "TIMEOUT"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	StreamID  string    `json:"stream_id,omitempty"`
	Cause     error     `json:"-"`
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

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStreamID tags the error with the stream it originated from.
func (e *Error) WithStreamID(id string) *Error {
	e.StreamID = id
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}
