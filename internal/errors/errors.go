// Package errors provides the error-code taxonomy for the action log.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a failure category surfaced to callers.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrDatabase ErrorCode = "DATABASE_ERROR"

	// Local input errors, never retried
	ErrInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrMalformedDocument ErrorCode = "MALFORMED_DOCUMENT"
	ErrNoPriorExport     ErrorCode = "NO_PRIOR_EXPORT"

	// Sync errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrSyncRejected   ErrorCode = "SYNC_REJECTED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrEngineClosed   ErrorCode = "ENGINE_CLOSED"

	// Authority errors
	ErrInvalidRecord ErrorCode = "INVALID_RECORD"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether err (or any error it wraps) carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or ErrInternal when err has none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
