// Package apperrors defines the coded error type shared by every layer of the
// approvals service. Handlers map codes to HTTP statuses; callers switch on
// codes to decide whether an operation is retryable.
package apperrors

import (
	"errors"
	"fmt"
)

// ErrCode identifies the class of failure.
type ErrCode string

const (
	ErrCodeNotFound           ErrCode = "NOT_FOUND"
	ErrCodeInvalidInput       ErrCode = "INVALID_INPUT"
	ErrCodeUnauthorized       ErrCode = "UNAUTHORIZED"
	ErrCodeConflict           ErrCode = "CONFLICT"
	ErrCodeInternal           ErrCode = "INTERNAL"
	ErrCodeConfiguration      ErrCode = "CONFIGURATION_ERROR"
	ErrCodeInvalidState       ErrCode = "INVALID_STATE"
	ErrCodeInvalidTransition  ErrCode = "INVALID_TRANSITION"
	ErrCodeConsistencyTimeout ErrCode = "CONSISTENCY_TIMEOUT"
)

// Error carries a code, a human-readable message and an optional cause.
type Error struct {
	Code    ErrCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error without a cause.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code ErrCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %s not found", resource, id)
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// Unauthorized reports an actor without authority over the target row.
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// Configuration reports a missing or ambiguous approval rule set.
func Configuration(message string) *Error {
	return New(ErrCodeConfiguration, message)
}

// InvalidState reports a decision attempted against a non-pending row.
func InvalidState(message string) *Error {
	return New(ErrCodeInvalidState, message)
}

// InvalidTransition reports an illegal workflow edge.
func InvalidTransition(processType, from, to string) *Error {
	return Newf(ErrCodeInvalidTransition, "illegal %s transition %s -> %s", processType, from, to)
}

// ConsistencyTimeout reports that post-commit verification exhausted its
// retry budget. The underlying write likely succeeded but was never confirmed.
func ConsistencyTimeout(message string) *Error {
	return New(ErrCodeConsistencyTimeout, message)
}

// CodeOf extracts the ErrCode from err, or ErrCodeInternal for uncoded errors.
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrCode) bool {
	return CodeOf(err) == code
}
