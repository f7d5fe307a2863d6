package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
)

func jobToMap(j *domain.EmailJob, rank int64) map[string]any {
	return map[string]any{
		"id":               j.ID,
		"seq":              j.Seq,
		"rank":             rank,
		"to":               j.Payload.To,
		"subject":          j.Payload.Subject,
		"html":             j.Payload.HTML,
		"text":             j.Payload.Text,
		"from":             j.Payload.From,
		"priority":         j.Priority,
		"state":            string(j.State),
		"attempt_count":    j.AttemptCount,
		"max_attempts":     j.MaxAttempts,
		"last_error":       j.LastError,
		"message_id":       j.MessageID,
		"worker_id":        j.WorkerID,
		"run_at":           j.RunAt.UnixMilli(),
		"lease_expires_at": optMillis(j.LeaseExpiresAt),
		"created_at":       j.CreatedAt.UnixMilli(),
		"updated_at":       j.UpdatedAt.UnixMilli(),
		"finished_at":      optMillis(j.FinishedAt),
	}
}

// jobFields fixes the order in which jobArgs passes hash fields to
// enqueueScript.
var jobFields = []string{
	"id", "seq", "rank", "to", "subject", "html", "text", "from", "priority",
	"state", "attempt_count", "max_attempts", "last_error", "message_id",
	"worker_id", "run_at", "lease_expires_at", "created_at", "updated_at",
	"finished_at",
}

// jobArgs appends the job's id, rank and field values in jobFields order.
func jobArgs(args []any, j *domain.EmailJob, rank int64) []any {
	m := jobToMap(j, rank)
	args = append(args, j.ID, rank)
	for _, f := range jobFields {
		args = append(args, m[f])
	}
	return args
}

func mapToJob(m map[string]string) (*domain.EmailJob, error) {
	j := &domain.EmailJob{
		ID: m["id"],
		Payload: domain.EmailPayload{
			To:      m["to"],
			Subject: m["subject"],
			HTML:    m["html"],
			Text:    m["text"],
			From:    m["from"],
		},
		State:     domain.JobState(m["state"]),
		LastError: m["last_error"],
		MessageID: m["message_id"],
		WorkerID:  m["worker_id"],
	}

	var err error
	if j.Seq, err = parseInt(m, "seq"); err != nil {
		return nil, err
	}
	if j.Priority, err = parseIntField(m, "priority"); err != nil {
		return nil, err
	}
	if j.AttemptCount, err = parseIntField(m, "attempt_count"); err != nil {
		return nil, err
	}
	if j.MaxAttempts, err = parseIntField(m, "max_attempts"); err != nil {
		return nil, err
	}
	if j.RunAt, err = parseMillis(m, "run_at"); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseMillis(m, "created_at"); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseMillis(m, "updated_at"); err != nil {
		return nil, err
	}
	if j.LeaseExpiresAt, err = parseOptMillis(m, "lease_expires_at"); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = parseOptMillis(m, "finished_at"); err != nil {
		return nil, err
	}
	return j, nil
}

func optMillis(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseInt(m map[string]string, field string) (int64, error) {
	v := m[field]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis store: field %s: %w", field, err)
	}
	return n, nil
}

func parseIntField(m map[string]string, field string) (int, error) {
	n, err := parseInt(m, field)
	return int(n), err
}

func parseMillis(m map[string]string, field string) (time.Time, error) {
	n, err := parseInt(m, field)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(n).UTC(), nil
}

func parseOptMillis(m map[string]string, field string) (*time.Time, error) {
	if m[field] == "" {
		return nil, nil
	}
	t, err := parseMillis(m, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
