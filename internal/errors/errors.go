// Package errors provides a structured error type shared by every
// component, so queue/pipeline/webhook failures carry a stable code
// instead of ad-hoc wrapped strings.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidInput   Code = "INVALID_INPUT"
	CodeTransient      Code = "TRANSIENT"
	CodeProviderFailed Code = "PROVIDER_FAILED"
	CodeEncryption     Code = "ENCRYPTION_FAILED"
	CodeDecryption     Code = "DECRYPTION_FAILED"
	CodeConfig         Code = "CONFIG_ERROR"
	CodeInternal       Code = "INTERNAL"
)

// Error is a structured, wrappable error carrying a stable Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error wrapping err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err (or a cause in its chain) is a not-found error.
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}
