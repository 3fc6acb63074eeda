// Package gcserrors defines the error-kind taxonomy shared across every
// manager: transient, not-found, invalid, exhausted and fatal. Go has no
// sum types, so managers return (T, *Error) pairs instead of a Result.
package gcserrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the purposes of propagation policy.
type Kind int

const (
	// Transient indicates a retryable failure (network flake, KV
	// retryable error). Transient errors never cross a manager
	// boundary; they are retried with backoff inside the operation.
	Transient Kind = iota
	// NotFound indicates the requested entity does not exist. Callers
	// that expect optionality should treat this as a nil/empty result.
	NotFound
	// Invalid indicates a bad argument or an unmet precondition. No
	// mutation occurs.
	Invalid
	// Exhausted indicates the entity ran out of its budget (actor
	// restarts, placement-group strategy infeasibility) and has moved
	// to a terminal state with a recorded reason.
	Exhausted
	// Fatal indicates the GCS process cannot continue (KV bootstrap
	// failure, loss of KV connectivity) and should be terminated for a
	// supervisor restart.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case NotFound:
		return "not_found"
	case Invalid:
		return "invalid"
	case Exhausted:
		return "exhausted"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a typed error carrying a Kind alongside the usual message and
// stack context.
type Error struct {
	Kind   Kind
	reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.reason)
}

// Cause unwraps to the underlying error, for errors.Cause/errors.Is.
func (e *Error) Cause() error {
	return e.cause
}

// New constructs an Error of the given kind with a reason string.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, reason: reason}
}

// Wrap constructs an Error of the given kind, wrapping an underlying
// cause with a stack trace via github.com/pkg/errors.
func Wrap(kind Kind, cause error, reason string) *Error {
	if cause == nil {
		return New(kind, reason)
	}
	return &Error{Kind: kind, reason: reason, cause: errors.Wrap(cause, reason)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
