// Package apperr provides the structured error type returned by the API
// layer. Each AppError carries a machine-readable code, a client-safe message
// and the HTTP status it maps to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeInvalidAudio Code = "INVALID_AUDIO"
	CodeNotFound     Code = "NOT_FOUND"
	CodeTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodeUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// AppError is the unified application error type.
type AppError struct {
	Code       Code           `json:"code"`
	Message    string         `json:"detail"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError.
func New(code Code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, http.StatusBadRequest)
}

// InvalidAudio reports audio that could not be decoded or embedded.
func InvalidAudio(cause error) *AppError {
	return New(CodeInvalidAudio, fmt.Sprintf("Failed to process audio: %v", cause), http.StatusBadRequest).
		WithCause(cause)
}

// NotFound reports a missing resource, e.g. NotFound("Speaker", "alice").
func NotFound(resource, id string) *AppError {
	e := New(CodeNotFound, resource+" not found", http.StatusNotFound)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

func Unavailable(service string) *AppError {
	return New(CodeUnavailable, fmt.Sprintf("The %s is temporarily unavailable", service), http.StatusServiceUnavailable).
		WithDetail("service", service)
}

// Internal wraps an unexpected failure. The cause is kept for logging and
// never rendered to clients.
func Internal(cause error) *AppError {
	return New(CodeInternal, "Internal server error", http.StatusInternalServerError).WithCause(cause)
}

// As extracts an *AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// From converts any error to an *AppError, treating unknown errors as internal.
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(err)
}
