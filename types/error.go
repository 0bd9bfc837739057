package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable error class shared by the engine, the
// store adapters and the HTTP API.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Execution error codes
const (
	ErrConfiguration ErrorCode = "CONFIGURATION_ERROR"
	ErrNodeExecution ErrorCode = "NODE_EXECUTION_ERROR"
	ErrRecursion     ErrorCode = "RECURSION_ERROR"
	ErrRunInProgress ErrorCode = "RUN_IN_PROGRESS"
	ErrInvalidGraph  ErrorCode = "INVALID_GRAPH"
)

var codeStatus = map[ErrorCode]int{
	ErrInvalidRequest:     http.StatusBadRequest,
	ErrUnauthorized:       http.StatusUnauthorized,
	ErrForbidden:          http.StatusForbidden,
	ErrNotFound:           http.StatusNotFound,
	ErrConflict:           http.StatusConflict,
	ErrRunInProgress:      http.StatusConflict,
	ErrRateLimited:        http.StatusTooManyRequests,
	ErrConfiguration:      http.StatusUnprocessableEntity,
	ErrRecursion:          http.StatusUnprocessableEntity,
	ErrInvalidGraph:       http.StatusUnprocessableEntity,
	ErrTimeout:            http.StatusGatewayTimeout,
	ErrServiceUnavailable: http.StatusServiceUnavailable,
}

// HTTPStatus is the status an API response uses for the code when the error
// does not override it. Unknown codes map to 500.
func (c ErrorCode) HTTPStatus() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether errors of this class are transient by default.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrRateLimited, ErrTimeout, ErrServiceUnavailable:
		return true
	}
	return false
}

// Error is a classified error. NodeID is set when the failure belongs to a
// graph node.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	NodeID     string    `json:"node_id,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status is the explicit HTTPStatus or the code's default.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return e.Code.HTTPStatus()
}

// NewError creates an Error whose Retryable flag follows the code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable()}
}

// Wrap is NewError(code, message).WithCause(cause).
func Wrap(code ErrorCode, message string, cause error) *Error {
	return NewError(code, message).WithCause(cause)
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus overrides the code's default status.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether the first *Error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code && code != ""
}

// IsRetryable reports the Retryable flag of the first *Error in the chain.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
