package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an attempt does not exist.
	ErrNotFound = errors.New("delivery attempt not found")

	// ErrDuplicateID is returned when creating an attempt whose ID already exists.
	ErrDuplicateID = errors.New("delivery attempt id already exists")

	// ErrDuplicateChannel is returned when a notification already has an
	// attempt for the channel. There is exactly one row per
	// (notification, channel).
	ErrDuplicateChannel = errors.New("attempt for channel already exists")

	// ErrRetriesExhausted is returned when retrying a failed attempt
	// past its retry cap. The row stays frozen in failed for manual
	// inspection.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrVersionConflict is returned by storage when an optimistic
	// update lost a race. The tracker re-reads and retries.
	ErrVersionConflict = errors.New("attempt was modified concurrently")

	// ErrUnknownCallbackStatus is returned for callback statuses outside
	// the known taxonomy.
	ErrUnknownCallbackStatus = errors.New("unknown callback status")
)

// InvalidTransitionError reports a lifecycle transition the state
// machine does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid delivery transition from %q to %q", e.From, e.To)
}

func NewInvalidTransitionError(from, to Status) *InvalidTransitionError {
	return &InvalidTransitionError{From: from, To: to}
}

// IsInvalidTransitionError reports whether err is an InvalidTransitionError.
func IsInvalidTransitionError(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}
