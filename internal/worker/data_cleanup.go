package worker

import (
	"context"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/distlock"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/queue"
)

// =============================================================================
// DATA CLEANUP WORKER: Evicts Finished Jobs
// =============================================================================
// Completed and failed jobs are kept for inspection (GET /email/jobs/{id})
// for the retention period and then removed, so the store does not grow
// without bound.

const (
	// DefaultCleanupInterval is how often the cleanup cycle runs.
	DefaultCleanupInterval = 1 * time.Hour

	// DefaultRetention is how long finished jobs are kept.
	DefaultRetention = 7 * 24 * time.Hour
)

// DataCleanupWorker periodically evicts finished jobs past retention.
type DataCleanupWorker struct {
	store     queue.Store
	lock      distlock.DistLock
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	log       *logger.Component
}

// NewDataCleanupWorker creates a cleanup worker. lock may be nil.
func NewDataCleanupWorker(store queue.Store, lock distlock.DistLock, interval, retention time.Duration) *DataCleanupWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if lock == nil {
		lock = distlock.NopLock{}
	}
	return &DataCleanupWorker{
		store:     store,
		lock:      lock,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		log:       logger.For("data_cleanup"),
	}
}

// Start begins the cleanup loop. It blocks until ctx is cancelled.
func (dc *DataCleanupWorker) Start(ctx context.Context) {
	dc.log.Info("starting", "interval", dc.interval.String(), "retention", dc.retention.String())

	// Run once immediately on start
	dc.cleanup(ctx)

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dc.log.Info("stopping")
			return
		case <-ticker.C:
			dc.cleanup(ctx)
		}
	}
}

func (dc *DataCleanupWorker) cleanup(ctx context.Context) {
	start := time.Now()
	n, err := dc.RunOnce(ctx)
	if err != nil {
		dc.log.Error("cleanup failed", "error", err)
		return
	}
	if n > 0 {
		dc.log.Info("evicted finished jobs", "evicted", n, "took", time.Since(start).Round(time.Millisecond).String())
	}
}

// RunOnce evicts jobs finished before now minus retention. It returns 0, nil
// when another process holds the lock.
func (dc *DataCleanupWorker) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	ok, err := dc.lock.Acquire(ctx)
	if err != nil || !ok {
		return 0, err
	}
	defer func() {
		if err := dc.lock.Release(context.WithoutCancel(ctx)); err != nil {
			dc.log.Warn("release lock", "error", err)
		}
	}()

	return dc.store.EvictFinished(ctx, dc.now().Add(-dc.retention))
}
