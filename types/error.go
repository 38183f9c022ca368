package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Adapter and upstream error codes
const (
	ErrConfiguration       ErrorCode = "CONFIGURATION"
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrQuotaExceeded       ErrorCode = "QUOTA_EXCEEDED"
	ErrModelNotFound       ErrorCode = "MODEL_NOT_FOUND"
	ErrContentFiltered     ErrorCode = "CONTENT_FILTERED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrMalformedResponse   ErrorCode = "MALFORMED_RESPONSE"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Tool service error codes
const (
	ErrHandshakeFailed     ErrorCode = "HANDSHAKE_FAILED"
	ErrCatalogUnavailable  ErrorCode = "CATALOG_UNAVAILABLE"
	ErrToolExecution       ErrorCode = "TOOL_EXECUTION"
	ErrToolLoopLimit       ErrorCode = "TOOL_LOOP_LIMIT"
	ErrDuplicateInvocation ErrorCode = "DUPLICATE_INVOCATION"
	ErrMissingInvocationID ErrorCode = "MISSING_INVOCATION_ID"
)

// Orchestration error codes
const (
	ErrSessionBusy ErrorCode = "SESSION_BUSY"
	ErrCancelled   ErrorCode = "CANCELLED"
	ErrNotFound    ErrorCode = "NOT_FOUND"
)

// Actions a client can take to recover from an error.
const (
	ActionAuthorize = "authorize"
	ActionReload    = "reload"
	ActionRetry     = "retry"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Action     string    `json:"action,omitempty"`
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

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithAction attaches a recovery hint for the client.
func (e *Error) WithAction(action string) *Error {
	e.Action = action
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// WrapError converts any error into a *Error, keeping an existing code.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	return NewError(code, message).WithCause(err)
}

// NewConfigError reports a missing or invalid adapter setting.
func NewConfigError(provider, message string) *Error {
	return NewError(ErrConfiguration, message).
		WithProvider(provider).
		WithHTTPStatus(http.StatusInternalServerError)
}

// NewTimeoutError reports an upstream call that exceeded its deadline.
func NewTimeoutError(provider string, cause error) *Error {
	return NewError(ErrUpstreamTimeout, "upstream timeout").
		WithProvider(provider).
		WithCause(cause).
		WithRetryable(true).
		WithHTTPStatus(http.StatusGatewayTimeout)
}

// NewMalformedError reports an upstream payload that could not be decoded.
func NewMalformedError(provider string, cause error) *Error {
	return NewError(ErrMalformedResponse, "malformed upstream response").
		WithProvider(provider).
		WithCause(cause).
		WithRetryable(true).
		WithHTTPStatus(http.StatusBadGateway)
}
