// Package dberr defines the common error taxonomy shared by the compiler,
// the executor and the runtime client. Backend-native errors are
// normalized into these kinds before they surface to callers.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error
type Kind int

const (
	// Configuration is a caller mistake caught before any statement is
	// issued: unknown field name, unresolvable join, invalid builder use
	Configuration Kind = iota
	// Integrity is a constraint violation reported by the backend
	Integrity
	// Operational is a backend failure outside the caller's control
	Operational
	// Internal is an internal backend error
	Internal
	// Programming is a malformed statement or misused interface
	Programming
	// NotSupported is an operation the dialect or backend cannot perform
	NotSupported
	// Data is a value outside the column's domain
	Data
	// DoesNotExist is a single-row lookup that matched zero rows
	DoesNotExist
	// Interface is a connection-level failure
	Interface
)

// String returns the taxonomy name of the kind
func (k Kind) String() string {
	switch k {
	case Configuration:
		return "ConfigurationError"
	case Integrity:
		return "IntegrityError"
	case Operational:
		return "OperationalError"
	case Internal:
		return "InternalError"
	case Programming:
		return "ProgrammingError"
	case NotSupported:
		return "NotSupportedError"
	case Data:
		return "DataError"
	case DoesNotExist:
		return "DoesNotExist"
	case Interface:
		return "InterfaceError"
	default:
		return "UnknownError"
	}
}

// Error is a classified error, optionally wrapping a backend cause
type Error struct {
	// Kind is the taxonomy classification
	Kind Kind
	// Message describes the failure
	Message string
	// Cause is the underlying error, nil for compile-time errors
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the taxonomy kind from an error chain
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether the error chain contains the given kind
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsConfiguration reports a ConfigurationError
func IsConfiguration(err error) bool { return Is(err, Configuration) }

// IsIntegrity reports an IntegrityError
func IsIntegrity(err error) bool { return Is(err, Integrity) }

// IsOperational reports an OperationalError
func IsOperational(err error) bool { return Is(err, Operational) }

// IsNotSupported reports a NotSupportedError
func IsNotSupported(err error) bool { return Is(err, NotSupported) }

// IsDoesNotExist reports a DoesNotExist error
func IsDoesNotExist(err error) bool { return Is(err, DoesNotExist) }
