package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailqueue/internal/domain"
)

// Priorities outside [MinPriority, MaxPriority] are rejected at enqueue so
// every backend can order them exactly.
const (
	MinPriority = -1000
	MaxPriority = 1000
)

// NewJob builds a waiting job for the payload. The id and timestamps are
// assigned by Prepare when the job is enqueued.
func NewJob(payload domain.EmailPayload, priority int) *domain.EmailJob {
	return &domain.EmailJob{
		Payload:  payload,
		Priority: priority,
		State:    domain.JobWaiting,
	}
}

// Prepare validates a job and fills the fields a store owns: id, state,
// attempt counters and timestamps. Backends call it inside Enqueue and
// EnqueueBulk before persisting.
func Prepare(j *domain.EmailJob, opts Options, now time.Time) error {
	if j == nil {
		return fmt.Errorf("%w: nil job", ErrInvalidJob)
	}
	if strings.TrimSpace(j.Payload.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidJob)
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return fmt.Errorf("%w: priority %d outside [%d, %d]", ErrInvalidJob, j.Priority, MinPriority, MaxPriority)
	}
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = opts.DefaultMaxAttempts
	}
	j.State = domain.JobWaiting
	j.AttemptCount = 0
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.FinishedAt = nil
	j.CreatedAt = now
	j.UpdatedAt = now
	j.RunAt = now
	return nil
}

// PrepareAll runs Prepare over a batch, failing on the first invalid job or
// on an id used twice within the batch.
func PrepareAll(jobs []*domain.EmailJob, opts Options, now time.Time) ([]string, error) {
	ids := make([]string, len(jobs))
	seen := make(map[string]int, len(jobs))
	for i, j := range jobs {
		if err := Prepare(j, opts, now); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
		if prev, dup := seen[j.ID]; dup {
			return nil, fmt.Errorf("job %d: %w: id %q already used by job %d", i, ErrInvalidJob, j.ID, prev)
		}
		seen[j.ID] = i
		ids[i] = j.ID
	}
	return ids, nil
}

// ErrorText renders a failure cause for storage.
func ErrorText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// Less orders eligible jobs: lower priority value first, then insertion order.
func Less(a, b *domain.EmailJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Seq < b.Seq
}
