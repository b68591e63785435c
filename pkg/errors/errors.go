package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Error codes returned in the JSON envelope.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeTemplateNotFound     = "TEMPLATE_NOT_FOUND"
	CodeProviderNotFound     = "PROVIDER_NOT_FOUND"
	CodeUpstreamFailure      = "UPSTREAM_FAILURE"
	CodeStoreFailure         = "STORE_FAILURE"
	CodeRateLimited          = "RATE_LIMIT_EXCEEDED"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Stack      string `json:"-"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any.
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Wrap records the underlying cause without exposing it to clients.
func (e *AppError) Wrap(err error) *AppError {
	e.cause = err
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		Stack:      string(debug.Stack()),
	}
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewTooManyRequestsError creates a 429 error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewBadGatewayError creates a 502 error for failures talking to an upstream
func NewBadGatewayError(code string, message string) *AppError {
	return NewError(http.StatusBadGateway, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Is checks if err is an AppError carrying the same code as target
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Code == target.Code
}
