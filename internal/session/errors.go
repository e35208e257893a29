package session

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is wrapped by RetryError.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrEmptyPrompt is returned when a session is primed with a blank
	// prompt. It is never retried.
	ErrEmptyPrompt = errors.New("system prompt is empty")
)

// StateError is returned when an operation is attempted in a state that
// does not allow it. It is never retried.
type StateError struct {
	Op     string
	State  State
	Reason string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s session in state %s: %s", e.Op, e.State, e.Reason)
	}
	return fmt.Sprintf("cannot %s session in state %s", e.Op, e.State)
}

// IsStateError reports whether err is or wraps a StateError.
func IsStateError(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

// RetryError is the terminal error after every attempt failed.
type RetryError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *RetryError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last attempt's error.
func (e *RetryError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}
