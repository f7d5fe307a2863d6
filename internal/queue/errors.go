package queue

import (
	"errors"
	"fmt"
)

// Sentinel errors for job store operations.
var (
	// ErrStoreUnavailable means the backend could not be reached or the
	// operation failed inside the backend. Nothing was mutated.
	ErrStoreUnavailable = errors.New("queue: store unavailable")

	// ErrJobNotFound is returned when no job exists with the given id.
	ErrJobNotFound = errors.New("queue: job not found")

	// ErrLeaseLost is returned by Mark*/ExtendLease when the job is no longer
	// active for the calling worker (reclaimed, purged or already finished).
	ErrLeaseLost = errors.New("queue: lease lost")

	// ErrInvalidJob is returned when a job cannot be enqueued as given.
	ErrInvalidJob = errors.New("queue: invalid job")
)

// StoreError carries the failing operation alongside the backend error.
// It matches both ErrStoreUnavailable and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("queue: %s: store unavailable: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Unavailable wraps a backend error for the given operation.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
