package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotConnected is returned when sending on a channel that is not open.
	ErrNotConnected = errors.New("channel not connected")
	// ErrInvalidState is returned for operations the current session state does not allow.
	ErrInvalidState = errors.New("invalid state")
	// ErrChannel marks a realtime transport failure.
	ErrChannel = errors.New("channel error")
	// ErrNotFound is a query miss.
	ErrNotFound = errors.New("not found")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateError reports an operation rejected by the session state machine.
type StateError struct {
	State SessionStatus
	Op    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
