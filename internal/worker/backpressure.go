package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/queue"
)

// BackpressureMonitor checks queue depth and signals when to pause enqueueing.
// If the transport is down, waiting and delayed jobs can grow unbounded.
// This monitor pauses bulk enqueueing when the backlog reaches a configurable
// threshold and resumes when it drains below 50% (hysteresis to avoid
// flapping). A threshold <= 0 disables it.
type BackpressureMonitor struct {
	store         queue.Store
	maxQueueDepth int64
	checkInterval time.Duration
	log           *logger.Component

	mu     sync.RWMutex
	paused bool
	depth  int64
}

// NewBackpressureMonitor creates a new BackpressureMonitor.
func NewBackpressureMonitor(store queue.Store, maxDepth int64, interval time.Duration) *BackpressureMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BackpressureMonitor{
		store:         store,
		maxQueueDepth: maxDepth,
		checkInterval: interval,
		log:           logger.For("backpressure"),
	}
}

// Enabled reports whether a depth threshold is configured.
func (bp *BackpressureMonitor) Enabled() bool {
	return bp != nil && bp.maxQueueDepth > 0
}

// Start runs the periodic queue-depth check loop. It blocks until ctx is
// cancelled and returns immediately when the monitor is disabled.
func (bp *BackpressureMonitor) Start(ctx context.Context) {
	if !bp.Enabled() {
		return
	}

	// Run an initial check immediately
	bp.Check(ctx)

	ticker := time.NewTicker(bp.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bp.Check(ctx)
		}
	}
}

// Check reads the current backlog and updates the paused flag.
func (bp *BackpressureMonitor) Check(ctx context.Context) {
	if !bp.Enabled() {
		return
	}
	stats, err := bp.store.Counts(ctx)
	if err != nil {
		bp.log.Error("check failed", "error", err)
		return
	}
	depth := stats.Pending()

	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.depth = depth
	wasPaused := bp.paused
	// Pause at maxQueueDepth, resume at 50% (hysteresis prevents flapping)
	if depth >= bp.maxQueueDepth {
		bp.paused = true
		if !wasPaused {
			bp.log.Warn("queue depth exceeds threshold, pausing enqueue", "depth", depth, "threshold", bp.maxQueueDepth)
		}
	} else if depth < bp.maxQueueDepth/2 {
		bp.paused = false
		if wasPaused {
			bp.log.Info("queue depth below resume threshold, resuming enqueue", "depth", depth, "resume_at", bp.maxQueueDepth/2)
		}
	}
	// Between 50% and 100% we keep whatever state we're in (hysteresis band).
}

// IsPaused returns true if enqueue operations should be paused due to backpressure.
func (bp *BackpressureMonitor) IsPaused() bool {
	if !bp.Enabled() {
		return false
	}
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.paused
}

// QueueDepth returns the backlog seen by the last check.
func (bp *BackpressureMonitor) QueueDepth() int64 {
	if bp == nil {
		return 0
	}
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.depth
}
