// Package rscerrors categorizes the error kinds named in the error handling
// design: admission errors, transport errors, remote execution errors,
// not-found errors, and timeouts. Categorization lets callers (and tests)
// branch on "what kind of failure was this" without string matching.
package rscerrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Category is one of the error kinds named by the error handling design.
type Category uint8

const (
	// Unknown is never intentionally returned; its presence indicates a
	// bug in categorization.
	Unknown Category = iota
	// Admission marks an operation rejected because the session was not
	// in a state that admits it.
	Admission
	// Transport marks a send failure, channel-inactive event, or SASL
	// negotiation failure. A handshake that runs out of time is Timeout.
	Transport
	// RemoteExecution marks a statement or job that completed but
	// reported an error status from the driver.
	RemoteExecution
	// NotFound marks a lookup against an unknown id.
	NotFound
	// Timeout marks the handshake timeout; request timeouts beyond that
	// are a caller concern per the error handling design.
	Timeout
	// ResourceExhausted marks a call rejected because a bounded table
	// (the operations table) is already full.
	ResourceExhausted
)

func (c Category) String() string {
	switch c {
	case Admission:
		return "admission"
	case Transport:
		return "transport"
	case RemoteExecution:
		return "remote_execution"
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	case ResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error is a categorized error. Use [errors.As] to recover the category
// from a wrapped error chain.
type Error struct {
	Category Category
	Op       string
	cause    error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Category)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Category, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a categorized error whose cause is a new error carrying msg.
func New(cat Category, op, msg string) *Error {
	return &Error{Category: cat, Op: op, cause: pkgerrors.New(msg)}
}

// Wrap attaches a category and operation name to an existing error,
// preserving it as the unwrap target.
func Wrap(cat Category, op string, cause error) *Error {
	return &Error{Category: cat, Op: op, cause: pkgerrors.WithStack(cause)}
}

// Is reports whether err is a categorized error of the given category.
func Is(err error, cat Category) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Category == cat
}

// CategoryOf returns the category of err, or Unknown if err is not a
// categorized error.
func CategoryOf(err error) Category {
	var e *Error
	if !errors.As(err, &e) {
		return Unknown
	}
	return e.Category
}
