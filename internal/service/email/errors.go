package email

import (
	"errors"
	"fmt"
)

// Sentinel errors for the email service layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrBackpressure = errors.New("queue is over capacity, try again later")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// BulkError reports a bulk send that stopped at a failing chunk. Jobs from
// earlier chunks stay queued; nothing from the failing chunk was.
type BulkError struct {
	Queued int // jobs committed before the failure
	Chunk  int // zero-based index of the failing chunk
	Err    error
}

func (e *BulkError) Error() string {
	return fmt.Sprintf("bulk enqueue failed at chunk %d after %d queued: %v", e.Chunk, e.Queued, e.Err)
}

func (e *BulkError) Unwrap() error { return e.Err }
