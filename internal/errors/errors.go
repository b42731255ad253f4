// Package errors provides coded errors for roadwatch.
//
// Construction problems (bad options, bad glob patterns, lifecycle misuse) are
// returned as *Error values so callers can branch on the code:
//
//	s, err := watcher.NewSession(logger, root, opts)
//	if errors.Is(err, errors.ErrInvalidPattern) {
//	    // fix the include/exclude list
//	}
//
//	var coded *errors.Error
//	if errors.As(err, &coded) {
//	    switch coded.Code {
//	    case errors.CodeValidation:
//	        fmt.Println(coded.Details)
//	    }
//	}
//
// Capture and observer failures are never returned; they are logged where they
// happen.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout roadwatch.
const (
	CodeValidation     Code = "VALIDATION"
	CodeInvalidPattern Code = "INVALID_PATTERN"
	CodeInvalidState   Code = "INVALID_STATE"
	CodeInternal       Code = "INTERNAL"
)

// Error is a coded error with a message and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause returns a copy of the error wrapping err.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrValidation     = &Error{Code: CodeValidation, Message: "validation error"}
	ErrInvalidPattern = &Error{Code: CodeInvalidPattern, Message: "invalid pattern"}
	ErrInvalidState   = &Error{Code: CodeInvalidState, Message: "invalid state"}
	ErrInternal       = &Error{Code: CodeInternal, Message: "internal error"}
)

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// InvalidPatternf creates an invalid pattern error with formatted message.
func InvalidPatternf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidPattern, Message: fmt.Sprintf(format, args...)}
}

// InvalidStatef creates an invalid state error with formatted message.
func InvalidStatef(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
