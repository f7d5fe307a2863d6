package domain

import "time"

// JobState is the lifecycle state of an EmailJob.
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobDelayed   JobState = "delayed"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// IsValid reports whether s is one of the known states.
func (s JobState) IsValid() bool {
	switch s {
	case JobWaiting, JobActive, JobCompleted, JobFailed, JobDelayed:
		return true
	}
	return false
}

// EmailPayload is the content of a single queued email.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
	From    string `json:"from,omitempty"`
}

// EmailJob is one unit of work: a single email to a single recipient.
// It is owned by the job store from enqueue until eviction.
type EmailJob struct {
	ID             string       `json:"id"`
	Payload        EmailPayload `json:"payload"`
	Priority       int          `json:"priority"` // lower value is dispatched first
	State          JobState     `json:"state"`
	AttemptCount   int          `json:"attempt_count"`
	MaxAttempts    int          `json:"max_attempts"`
	LastError      string       `json:"last_error,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
	WorkerID       string       `json:"worker_id,omitempty"`
	Seq            int64        `json:"seq"`
	RunAt          time.Time    `json:"run_at"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
}

// AttemptsLeft returns how many more attempts the job may make.
func (j *EmailJob) AttemptsLeft() int {
	if n := j.MaxAttempts - j.AttemptCount; n > 0 {
		return n
	}
	return 0
}

// BulkRequest asks for the same content to be sent to many recipients.
// It is never stored as one entity; it is decomposed into one EmailJob
// per recipient.
type BulkRequest struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	HTML       string   `json:"html,omitempty"`
	Text       string   `json:"text,omitempty"`
	From       string   `json:"from,omitempty"`
}

// PayloadFor builds the per-recipient payload sharing the request's content.
func (r *BulkRequest) PayloadFor(recipient string) EmailPayload {
	return EmailPayload{
		To:      recipient,
		Subject: r.Subject,
		HTML:    r.HTML,
		Text:    r.Text,
		From:    r.From,
	}
}

// Receipt is returned by a transport after a message was accepted.
type Receipt struct {
	MessageID string    `json:"message_id"`
	Transport string    `json:"transport"`
	Accepted  []string  `json:"accepted,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// QueueStats is a point-in-time count of jobs per state.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Pending returns the number of jobs that still need a worker.
func (s QueueStats) Pending() int64 {
	return s.Waiting + s.Delayed
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *EmailJob) Clone() *EmailJob {
	if j == nil {
		return nil
	}
	c := *j
	c.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
