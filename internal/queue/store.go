package queue

import (
	"context"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
)

// Store is the persistence contract for email jobs.
type Store interface {
	// Enqueue adds one job in waiting state and returns its id.
	Enqueue(ctx context.Context, job *domain.EmailJob) (string, error)

	// EnqueueBulk adds all jobs atomically: either every job is committed
	// or none is. Ids are returned in input order.
	EnqueueBulk(ctx context.Context, jobs []*domain.EmailJob) ([]string, error)

	// DequeueNext claims the next eligible job for workerID and marks it
	// active with a fresh lease. Eligible jobs are waiting jobs and delayed
	// jobs whose RunAt has passed, ordered by priority (lower first) then
	// insertion order. Returns nil, nil when nothing is eligible.
	DequeueNext(ctx context.Context, workerID string) (*domain.EmailJob, error)

	// MarkCompleted records a successful attempt.
	MarkCompleted(ctx context.Context, id, workerID string, receipt *domain.Receipt) error

	// MarkFailed records a final, non-retryable failed attempt.
	MarkFailed(ctx context.Context, id, workerID string, cause error) error

	// MarkRetry records a failed attempt. The job goes back to waiting
	// (delay <= 0) or delayed while attempts remain, and to failed once
	// AttemptCount reaches MaxAttempts. The updated job is returned.
	MarkRetry(ctx context.Context, id, workerID string, cause error, delay time.Duration) (*domain.EmailJob, error)

	// ExtendLease pushes the lease of an active job forward by the store's
	// lease TTL.
	ExtendLease(ctx context.Context, id, workerID string) error

	// ReclaimExpired returns active jobs whose lease has expired to waiting,
	// counting the lost attempt, or fails them when no attempts remain.
	ReclaimExpired(ctx context.Context) ([]*domain.EmailJob, error)

	// Counts returns a best-effort snapshot of jobs per state.
	Counts(ctx context.Context) (domain.QueueStats, error)

	// Clear removes every job that is not active and returns how many were
	// removed. Active jobs are left to their workers.
	Clear(ctx context.Context) (int64, error)

	// EvictFinished removes terminal jobs that finished before olderThan.
	EvictFinished(ctx context.Context, olderThan time.Time) (int64, error)

	// Get returns a copy of the job with the given id.
	Get(ctx context.Context, id string) (*domain.EmailJob, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	// DefaultLeaseTTL is how long a claimed job may stay active without a
	// lease extension before recovery considers its worker dead.
	DefaultLeaseTTL = 5 * time.Minute

	// DefaultMaxAttempts applies to jobs enqueued without MaxAttempts.
	DefaultMaxAttempts = 3

	// LeaseExpiredError is recorded as LastError on reclaimed jobs.
	LeaseExpiredError = "lease expired"
)

// Options are shared by every backend.
type Options struct {
	LeaseTTL           time.Duration
	DefaultMaxAttempts int
}

// DefaultOptions returns Options with the package defaults.
func DefaultOptions() Options {
	return Options{
		LeaseTTL:           DefaultLeaseTTL,
		DefaultMaxAttempts: DefaultMaxAttempts,
	}
}

// Normalize fills zero fields with defaults.
func (o Options) Normalize() Options {
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = DefaultLeaseTTL
	}
	if o.DefaultMaxAttempts <= 0 {
		o.DefaultMaxAttempts = DefaultMaxAttempts
	}
	return o
}
