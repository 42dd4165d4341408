package core

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session id resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionClosed is returned for turns against a session that has been
// ended, either explicitly or after repeated failures.
var ErrSessionClosed = errors.New("session closed")

// StoreError wraps a persistence failure. Store failures are never swallowed;
// they propagate to the caller wrapped in this type.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidationError reports a context delta that violates the slot schema or
// the stage-ownership rule. The offending turn is discarded without mutation.
type ValidationError struct {
	Slot   Slot
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Slot == "" {
		return fmt.Sprintf("context validation: %s", e.Reason)
	}
	return fmt.Sprintf("context validation: slot %q: %s", e.Slot, e.Reason)
}
