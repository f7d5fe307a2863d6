package events

import (
	"context"

	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// NewLogObserver writes lifecycle events to the structured log: failures at
// error level, retries and stalls at warn, everything else at debug.
func NewLogObserver() Observer {
	log := logger.For("dispatcher")
	return ObserverFunc(func(_ context.Context, e Event) {
		switch e.Kind {
		case KindActive:
			log.Debug("processing job", "job_id", e.JobID, "to", e.To, "attempt", e.Attempt+1)
		case KindCompleted:
			log.Debug("job completed", "job_id", e.JobID, "to", e.To, "message_id", e.MessageID, "attempts", e.Attempt)
		case KindRetrying:
			log.Warn("job will retry", "job_id", e.JobID, "to", e.To, "attempt", e.Attempt,
				"max_attempts", e.MaxAttempts, "delay", e.Delay.String(), "error", e.Error)
		case KindFailed:
			log.Error("job failed", "job_id", e.JobID, "to", e.To, "attempts", e.Attempt, "error", e.Error)
		case KindStalled:
			log.Warn("job lease expired", "job_id", e.JobID, "attempt", e.Attempt)
		case KindCleared:
			log.Info("queue cleared", "removed", e.Count)
		case KindEnqueued:
			log.Debug("jobs enqueued", "count", e.Count, "job_id", e.JobID)
		}
	})
}
