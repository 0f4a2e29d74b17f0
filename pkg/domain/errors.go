package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a correlation id has no persisted session.
var ErrSessionNotFound = errors.New("session not found")

// ErrKeyNotFound is returned by key-value backends for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// ErrIdentityUnavailable is returned when an operation needs a submitter identity that is not connected yet.
var ErrIdentityUnavailable = errors.New("identity unavailable")

// ErrSeedExhausted is returned when the device ran out of session seeds.
var ErrSeedExhausted = errors.New("session seeds exhausted")

// ErrNoResult is returned by result stores when nothing has been written at a location.
var ErrNoResult = errors.New("no result at location")

// RejectedError reports that an action could not be signed or broadcast.
// It is recoverable: the action stays in the pending queue.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("action rejected: %s", e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// IsRejected reports whether err is (or wraps) a RejectedError.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// ErrEmptyAction is returned when an action carries no text.
var ErrEmptyAction = errors.New("action text is empty")
