// Package events fans job lifecycle notifications out to observers: the
// structured log, OpenTelemetry metrics, a Redis pub/sub channel and an S3
// archive of failed jobs. Observers are registered explicitly on a Bus.
package events

import (
	"time"

	"github.com/ignite/mailqueue/internal/domain"
)

// Kind names a lifecycle transition.
type Kind string

const (
	KindEnqueued  Kind = "enqueued"
	KindActive    Kind = "active"
	KindCompleted Kind = "completed"
	KindRetrying  Kind = "retrying"
	KindFailed    Kind = "failed"
	KindStalled   Kind = "stalled" // lease expired, job reclaimed
	KindCleared   Kind = "cleared"
)

// Event describes one transition. Job fields are empty for queue-wide
// events such as KindCleared.
type Event struct {
	Kind        Kind          `json:"kind"`
	JobID       string        `json:"job_id,omitempty"`
	To          string        `json:"to,omitempty"`
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	MessageID   string        `json:"message_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	Delay       time.Duration `json:"delay_ns,omitempty"`
	Count       int64         `json:"count,omitempty"`
	At          time.Time     `json:"at"`
}

// ForJob starts an event from a job snapshot.
func ForJob(kind Kind, j *domain.EmailJob) Event {
	return Event{
		Kind:        kind,
		JobID:       j.ID,
		To:          j.Payload.To,
		Attempt:     j.AttemptCount,
		MaxAttempts: j.MaxAttempts,
		MessageID:   j.MessageID,
		Error:       j.LastError,
	}
}
