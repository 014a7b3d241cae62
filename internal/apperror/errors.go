// Package apperror defines the error taxonomy returned by the identity use cases.
package apperror

import (
	"errors"
	"strconv"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // User-safe message
	Field    string            // Offending input field, validation errors only
	Metadata map[string]string // Additional context (minutes_remaining, days_remaining)
	Cause    error             // Wrapped underlying error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Code == CodeInternal {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation                          = New(CodeValidation, "validation failed")
	ErrConflict                            = New(CodeConflict, "conflict")
	ErrPolicyViolation                     = New(CodePolicyViolation, "policy violation")
	ErrInvalidCredentials                  = New(CodeInvalidCredentials, "invalid credentials")
	ErrAccountLocked                       = New(CodeAccountLocked, "account locked")
	ErrPendingDeletionConfirmationRequired = New(CodePendingDeletionConfirmationRequired, "pending deletion confirmation required")
	ErrNotFound                            = New(CodeNotFound, "not found")
	ErrUpstreamProvider                    = New(CodeUpstreamProvider, "upstream provider error")
	ErrUnauthorized                        = New(CodeUnauthorized, "unauthorized")
	ErrInternal                            = New(CodeInternal, "internal error")
)

func Validation(field, message string) *Error {
	return &Error{Code: CodeValidation, Field: field, Message: message}
}

func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

func PolicyViolation(message string) *Error {
	return New(CodePolicyViolation, message)
}

func InvalidCredentials() *Error {
	return New(CodeInvalidCredentials, "invalid email or password")
}

// AccountLocked reports a lockout with the whole minutes still to wait.
func AccountLocked(minutesRemaining int) *Error {
	return WithMetadata(CodeAccountLocked,
		"account is temporarily locked, try again in "+strconv.Itoa(minutesRemaining)+" minutes",
		map[string]string{"minutes_remaining": strconv.Itoa(minutesRemaining)},
	)
}

// PendingDeletionConfirmationRequired reports that signing in would cancel a scheduled deletion.
func PendingDeletionConfirmationRequired(daysRemaining int) *Error {
	return WithMetadata(CodePendingDeletionConfirmationRequired,
		"account is scheduled for deletion in "+strconv.Itoa(daysRemaining)+" days, confirm sign-in to cancel the deletion",
		map[string]string{"days_remaining": strconv.Itoa(daysRemaining)},
	)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func UpstreamProvider(message string, cause error) *Error {
	return Wrap(CodeUpstreamProvider, message, cause)
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, message)
}

func Internal(cause error) *Error {
	return Wrap(CodeInternal, "internal error", cause)
}

// From returns err as *Error, wrapping anything foreign as an internal error.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}

// MetadataInt reads an integer metadata value, returning 0 when absent.
func (e *Error) MetadataInt(key string) int {
	if e == nil || e.Metadata == nil {
		return 0
	}
	n, err := strconv.Atoi(e.Metadata[key])
	if err != nil {
		return 0
	}
	return n
}
