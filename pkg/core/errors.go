// Package core holds the shared error taxonomy for the LocalXplore
// assistant core. Every failure surfaced to a caller is a *core.Error so
// front-ends can branch on the kind without parsing message text.
package core

import (
	"errors"
	"fmt"
)

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrInitialization means no valid session could be created.
	ErrInitialization ErrorType = "initialization_error"
	// ErrDeviceAccess means the capture device was denied or unavailable.
	ErrDeviceAccess ErrorType = "device_access_error"
	// ErrTransport covers failures during a streamed send, grounded query,
	// or tool-result send.
	ErrTransport ErrorType = "transport_error"
	// ErrMissingCorrelation means a tool result had no matching call id.
	ErrMissingCorrelation ErrorType = "missing_correlation_error"
	// ErrUninitialized means an operation ran before a session existed.
	// This is a programming-contract violation, not a runtime condition.
	ErrUninitialized ErrorType = "uninitialized_error"
	// ErrBusy means a send was attempted while a prior turn was in flight.
	ErrBusy ErrorType = "busy_error"
	// ErrQuery wraps a grounded search failure.
	ErrQuery ErrorType = "query_error"
)

// Error is the canonical error value. Message is always human-readable;
// the underlying cause is supplementary detail, never the primary text.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsType reports whether err is a *Error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// NewInitializationError creates an initialization error.
func NewInitializationError(message string, cause error) *Error {
	return &Error{Type: ErrInitialization, Message: message, Cause: cause}
}

// NewDeviceAccessError creates a capture-device access error.
func NewDeviceAccessError(message string, cause error) *Error {
	return &Error{Type: ErrDeviceAccess, Message: message, Cause: cause}
}

// NewTransportError creates a transport error.
func NewTransportError(message string, cause error) *Error {
	return &Error{Type: ErrTransport, Message: message, Cause: cause}
}

// NewMissingCorrelationError creates a missing-correlation error.
func NewMissingCorrelationError(message string) *Error {
	return &Error{Type: ErrMissingCorrelation, Message: message}
}

// NewUninitializedError creates an uninitialized-session error.
func NewUninitializedError(message string) *Error {
	return &Error{Type: ErrUninitialized, Message: message}
}

// NewBusyError creates a busy error.
func NewBusyError(message string) *Error {
	return &Error{Type: ErrBusy, Message: message}
}

// NewQueryError creates a grounded-query error.
func NewQueryError(message string, cause error) *Error {
	return &Error{Type: ErrQuery, Message: message, Cause: cause}
}

// IsRetryable reports whether the caller may reasonably retry by hand.
// Automatic retries are never performed by this module.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransport, ErrQuery:
		return true
	default:
		return false
	}
}
