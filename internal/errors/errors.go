// Package errors provides coded application errors shared by the repository,
// service and transport layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error for transport mapping.
type Code string

const (
	ErrCodeNotFound     Code = "not_found"
	ErrCodeInvalidInput Code = "invalid_input"
	ErrCodeConflict     Code = "conflict"
	ErrCodeUnauthorized Code = "unauthorized"
	ErrCodeForbidden    Code = "forbidden"
	ErrCodeUnavailable  Code = "unavailable"
	ErrCodeInternal     Code = "internal"
)

// Error is a coded error with optional structured details.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches a detail key and returns the same error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates err with a code and message. Wrapping nil returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return (&Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}).WithDetail("resource", resource).WithDetail("id", id)
}

// InvalidInput reports a rejected input field.
func InvalidInput(field, message string) *Error {
	return (&Error{
		Code:    ErrCodeInvalidInput,
		Message: fmt.Sprintf("invalid %s: %s", field, message),
	}).WithDetail("field", field)
}

// CodeOf returns the code of the outermost coded error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
