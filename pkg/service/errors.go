package service

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound signals that no assignment or workflow exists for the
	// requested content item.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorizedTransition signals that the acting user may not act on
	// the assignment's current step.
	ErrUnauthorizedTransition = errors.New("actor not permitted on current step")

	// ErrAlreadyTerminal signals an action against a closed assignment.
	ErrAlreadyTerminal = errors.New("assignment is already in a terminal state")

	// ErrConcurrentModification signals that the assignment changed between
	// read and write. It is the only error callers should retry.
	ErrConcurrentModification = errors.New("assignment was modified concurrently")
)

// PersistenceError wraps an underlying store failure with the failing
// operation's context, so operators can tell an existence check apart from a
// write failure.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func persistence(op string, cause error) *PersistenceError {
	return &PersistenceError{Op: op, Cause: cause}
}

// Retryable reports whether the caller is expected to retry the operation
// (bounded, with backoff).
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
