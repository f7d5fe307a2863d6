package worker

import (
	"context"
	"time"

	"github.com/ignite/mailqueue/internal/events"
	"github.com/ignite/mailqueue/internal/pkg/distlock"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/queue"
)

// =============================================================================
// QUEUE RECOVERY WORKER: Reclaims Jobs Whose Lease Expired
// =============================================================================
// If a dispatcher process dies mid-send, its jobs stay active until their
// lease runs out. This worker periodically asks the store to reclaim them:
// jobs with attempts left go back to waiting, the rest are failed. Only one
// process runs a pass at a time, guarded by a distributed lock.

// DefaultRecoveryInterval is how often we scan for expired leases.
const DefaultRecoveryInterval = 2 * time.Minute

// QueueRecoveryWorker reclaims jobs abandoned by crashed workers.
type QueueRecoveryWorker struct {
	store    queue.Store
	lock     distlock.DistLock
	bus      *events.Bus
	notifier Notifier
	interval time.Duration
	log      *logger.Component
}

// NewQueueRecoveryWorker creates a recovery worker. lock, bus and notifier
// may be nil.
func NewQueueRecoveryWorker(store queue.Store, lock distlock.DistLock, bus *events.Bus, notifier Notifier, interval time.Duration) *QueueRecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if lock == nil {
		lock = distlock.NopLock{}
	}
	return &QueueRecoveryWorker{
		store:    store,
		lock:     lock,
		bus:      bus,
		notifier: notifier,
		interval: interval,
		log:      logger.For("queue_recovery"),
	}
}

// Start begins the recovery loop. It blocks until ctx is cancelled.
func (qr *QueueRecoveryWorker) Start(ctx context.Context) {
	qr.log.Info("starting", "interval", qr.interval.String())

	ticker := time.NewTicker(qr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			qr.log.Info("stopping")
			return
		case <-ticker.C:
			if _, err := qr.RunOnce(ctx); err != nil {
				qr.log.Error("recovery pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one reclaim pass and returns how many jobs were
// reclaimed. It returns 0, nil when another process holds the lock.
func (qr *QueueRecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ok, err := qr.lock.Acquire(queryCtx)
	if err != nil {
		return 0, err
	}
	if !ok {
		qr.log.Debug("another instance is recovering, skipping")
		return 0, nil
	}
	defer func() {
		if err := qr.lock.Release(context.WithoutCancel(ctx)); err != nil {
			qr.log.Warn("release lock", "error", err)
		}
	}()

	jobs, err := qr.store.ReclaimExpired(queryCtx)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	requeued := 0
	for _, j := range jobs {
		kind := events.KindStalled
		if j.State.IsTerminal() {
			kind = events.KindFailed
		} else {
			requeued++
		}
		qr.bus.Emit(ctx, events.ForJob(kind, j))
	}
	qr.log.Info("reclaimed expired leases", "reclaimed", len(jobs), "requeued", requeued,
		"failed", len(jobs)-requeued)

	if requeued > 0 && qr.notifier != nil {
		qr.notifier.Notify()
	}
	return len(jobs), nil
}
