package types

import "fmt"

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

const (
	ErrInvalidGraph    ErrorCode = "INVALID_GRAPH"
	ErrUnknownHandler  ErrorCode = "UNKNOWN_HANDLER"
	ErrNodeFailed      ErrorCode = "NODE_FAILED"
	ErrScriptFailed    ErrorCode = "SCRIPT_FAILED"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrStoreFailure    ErrorCode = "STORE_FAILURE"
	ErrAgentNotStarted ErrorCode = "AGENT_NOT_STARTED"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}
