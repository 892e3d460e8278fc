package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - invalid regex, invalid semver, duplicate package
	ErrorTypeConfig ErrorType = iota
	// Forge errors - network or API failures talking to the git host
	ErrorTypeForge
	// Conflict errors - a prior release cycle blocks this one
	ErrorTypeConflict
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Error is a structured error carrying its taxonomy category.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same taxonomy category.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Type: errType, Message: message, Cause: err}
}

// ConfigError creates a configuration error. Configuration errors are fatal
// and never retried.
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, fmt.Sprintf(format, args...))
}

// ForgeError wraps a git-host error. These abort the current run; retry
// policy, if any, belongs to the forge adapter.
func ForgeError(err error, message string) *Error {
	return Wrap(err, ErrorTypeForge, message)
}

// ForgeErrorf wraps a git-host error with formatting
func ForgeErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeForge, fmt.Sprintf(format, args...))
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, fmt.Sprintf(format, args...))
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == ErrorTypeConfig
}

// PendingReleaseError signals that a branch has a merged but untagged release
// pull request outstanding. The operator resolves it by finishing the prior
// cycle (running the release phase), not by retrying.
type PendingReleaseError struct {
	Branch   string
	PRNumber int
}

func (e *PendingReleaseError) Error() string {
	return fmt.Sprintf(
		"branch %q has a merged release PR #%d that has not been tagged yet; "+
			"finish the pending release before starting a new one",
		e.Branch, e.PRNumber)
}

// IsPendingRelease reports whether err is a pending-release conflict.
func IsPendingRelease(err error) bool {
	var e *PendingReleaseError
	return errors.As(err, &e)
}
