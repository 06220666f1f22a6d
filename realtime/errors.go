package realtime

import (
	"errors"
	"fmt"
)

// Kind represents the category of error for metrics and caller branching.
type Kind string

const (
	// KindValidation indicates invalid input (bad target/priority combinations)
	KindValidation Kind = "validation"
	// KindUnavailable indicates the shared store could not be reached
	KindUnavailable Kind = "unavailable"
	// KindSerialization indicates a message could not be encoded or decoded
	KindSerialization Kind = "serialization"
	// KindInternal indicates an unexpected internal failure
	KindInternal Kind = "internal"
)

// Error is a structured error with kind, message, and context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ValidationError creates a new validation error.
func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Context: make(map[string]any)}
}

// UnavailableError creates a new shared-store-unreachable error.
func UnavailableError(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause, Context: make(map[string]any)}
}

// SerializationError creates a new encoding/decoding error.
func SerializationError(message string, cause error) *Error {
	return &Error{Kind: KindSerialization, Message: message, Cause: cause, Context: make(map[string]any)}
}

// InternalError creates a new internal error.
func InternalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause, Context: make(map[string]any)}
}

// KindOf extracts the Kind from an error chain, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
