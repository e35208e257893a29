package ollama

import (
	"errors"
	"fmt"
)

// TransportError means the backend could not be reached or answered with a
// non-success status.
type TransportError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend transport failure: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend transport failure: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError means the backend answered but the reply was unusable.
type ProtocolError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend protocol failure: %s: %v", e.Reason, e.Err)
	}
	return "backend protocol failure: " + e.Reason
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}
