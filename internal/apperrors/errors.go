// Package apperrors provides the error taxonomy shared by the discussion core
// and its mapping to HTTP responses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category of an error.
type ErrorType string

const (
	// TypeValidation is malformed input. Never retried.
	TypeValidation ErrorType = "validation"
	// TypeNotFound is a missing target, parent or user. Never retried.
	TypeNotFound ErrorType = "not_found"
	// TypeConflict is transaction contention that outlived the internal retries.
	TypeConflict ErrorType = "conflict"
	// TypeConsistency is derived state diverging from its source of truth.
	TypeConsistency ErrorType = "consistency"
	// TypeInternal is everything else.
	TypeInternal ErrorType = "internal"
)

// Error is a structured error with type, message and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return newError(TypeValidation, fmt.Sprintf(format, args...), nil)
}

func NotFound(format string, args ...any) *Error {
	return newError(TypeNotFound, fmt.Sprintf(format, args...), nil)
}

func Conflict(message string, cause error) *Error {
	return newError(TypeConflict, message, cause)
}

func Consistency(format string, args ...any) *Error {
	return newError(TypeConsistency, fmt.Sprintf(format, args...), nil)
}

func Internal(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    t,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// With adds a context field (chainable).
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// TypeOf returns the type of the first *Error in err's chain, or TypeInternal.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeInternal
}

func IsValidation(err error) bool  { return err != nil && TypeOf(err) == TypeValidation }
func IsNotFound(err error) bool    { return err != nil && TypeOf(err) == TypeNotFound }
func IsConflict(err error) bool    { return err != nil && TypeOf(err) == TypeConflict }
func IsConsistency(err error) bool { return err != nil && TypeOf(err) == TypeConsistency }

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructured converts any error into a structured Error.
// Unknown errors become internal errors with a generic message.
func AsStructured(err error) *Error {
	if err == nil {
		return nil
	}

	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}

	return Internal("internal server error", err)
}
