package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailqueue/internal/backoff"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/events"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/ignite/mailqueue/internal/transport"
)

// ErrExhaustedRetries wraps the last transport error of a job that used up
// all of its attempts.
var ErrExhaustedRetries = errors.New("exhausted retries")

// ErrNoReceipt is the transport failure recorded when a sender reports
// success without a receipt. It is retried like any other send error.
var ErrNoReceipt = errors.New("sender returned no receipt")

// Notifier is told that new work may be available.
type Notifier interface {
	Notify()
}

// Config tunes a Dispatcher. Zero fields take the defaults below.
type Config struct {
	Concurrency       int           // default 10
	PollInterval      time.Duration // default 1s
	SendTimeout       time.Duration // default 30s
	HeartbeatInterval time.Duration // default 1m; keep well under the store lease TTL
	DefaultFrom       string
	Backoff           backoff.Strategy // default backoff.Default()
	WorkerID          string           // default "dispatcher-<random>"
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.Backoff == nil {
		c.Backoff = backoff.Default()
	}
	if c.WorkerID == "" {
		c.WorkerID = fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])
	}
	return c
}

// Stats are cumulative counters for one Dispatcher.
type Stats struct {
	Workers   int   `json:"workers"`
	Running   bool  `json:"running"`
	Busy      int64 `json:"busy"`
	Processed int64 `json:"processed"`
	Completed int64 `json:"completed"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
}

// Dispatcher runs a fixed pool of workers that claim jobs from the store,
// hand them to the transport and record the outcome. Each worker holds at
// most one job at a time.
type Dispatcher struct {
	store  queue.Store
	sender transport.Sender
	bus    *events.Bus
	cfg    Config
	log    *logger.Component

	wake chan struct{}

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	busy      atomic.Int64
	processed atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(store queue.Store, sender transport.Sender, bus *events.Bus, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		store:  store,
		sender: sender,
		bus:    bus,
		cfg:    cfg,
		log:    logger.For("dispatcher").With("dispatcher_id", cfg.WorkerID),
		wake:   make(chan struct{}, cfg.Concurrency),
	}
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled. Calling Start on a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.stop = make(chan struct{})

	d.log.Info("starting workers", "concurrency", d.cfg.Concurrency, "poll_interval", d.cfg.PollInterval.String())
	for i := 0; i < d.cfg.Concurrency; i++ {
		d.wg.Add(1)
		go d.work(ctx, fmt.Sprintf("%s-%d", d.cfg.WorkerID, i))
	}
}

// Stop signals the workers to exit and waits for in-flight jobs to finish
// or ctx to expire. In-flight sends are not cancelled; a job abandoned by
// an expired ctx is picked up again by lease recovery.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stop)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("stopped", "processed", d.processed.Load(), "completed", d.completed.Load(),
			"retried", d.retried.Load(), "failed", d.failed.Load())
		return nil
	case <-ctx.Done():
		d.log.Warn("stop timed out with jobs in flight", "busy", d.busy.Load())
		return ctx.Err()
	}
}

// Notify wakes idle workers so new jobs are picked up before the next poll.
func (d *Dispatcher) Notify() {
	for {
		select {
		case d.wake <- struct{}{}:
		default:
			return
		}
	}
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	return Stats{
		Workers:   d.cfg.Concurrency,
		Running:   running,
		Busy:      d.busy.Load(),
		Processed: d.processed.Load(),
		Completed: d.completed.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) work(ctx context.Context, workerID string) {
	defer d.wg.Done()
	for {
		if d.stopping(ctx) {
			return
		}
		job, err := d.store.DequeueNext(ctx, workerID)
		if err != nil {
			if ctx.Err() == nil {
				d.log.Error("claim failed", "worker_id", workerID, "error", err)
			}
			if !d.idle(ctx) {
				return
			}
			continue
		}
		if job == nil {
			if !d.idle(ctx) {
				return
			}
			continue
		}
		d.process(ctx, workerID, job)
	}
}

func (d *Dispatcher) stopping(ctx context.Context) bool {
	select {
	case <-d.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// idle waits for a wakeup or the poll interval. It reports false on shutdown.
func (d *Dispatcher) idle(ctx context.Context) bool {
	t := time.NewTimer(d.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-d.stop:
		return false
	case <-ctx.Done():
		return false
	case <-d.wake:
		return true
	case <-t.C:
		return true
	}
}

func (d *Dispatcher) process(ctx context.Context, workerID string, job *domain.EmailJob) {
	d.busy.Add(1)
	defer d.busy.Add(-1)
	d.processed.Add(1)

	// Outcomes are recorded even while shutting down.
	ctx = context.WithoutCancel(ctx)
	attempt := job.AttemptCount + 1
	d.bus.Emit(ctx, events.ForJob(events.KindActive, job))

	receipt, sendErr := d.send(ctx, workerID, job)

	ev := events.ForJob(events.KindCompleted, job)
	ev.Attempt = attempt

	switch {
	case sendErr == nil:
		if err := d.store.MarkCompleted(ctx, job.ID, workerID, receipt); err != nil {
			d.markError("complete", job, err)
			return
		}
		d.completed.Add(1)
		ev.MessageID = receipt.MessageID
		d.bus.Emit(ctx, ev)

	case transport.IsPermanent(sendErr):
		if err := d.store.MarkFailed(ctx, job.ID, workerID, sendErr); err != nil {
			d.markError("fail", job, err)
			return
		}
		d.failed.Add(1)
		ev.Kind = events.KindFailed
		ev.Error = sendErr.Error()
		d.bus.Emit(ctx, ev)

	default:
		delay := d.cfg.Backoff.Delay(attempt)
		updated, err := d.store.MarkRetry(ctx, job.ID, workerID, sendErr, delay)
		if err != nil {
			d.markError("retry", job, err)
			return
		}
		if updated.State == domain.JobFailed {
			d.failed.Add(1)
			ev.Kind = events.KindFailed
			ev.Error = fmt.Errorf("%w after %d attempts: %v", ErrExhaustedRetries, updated.AttemptCount, sendErr).Error()
			d.bus.Emit(ctx, ev)
			return
		}
		d.retried.Add(1)
		ev.Kind = events.KindRetrying
		ev.Error = sendErr.Error()
		if updated.State == domain.JobDelayed {
			ev.Delay = delay
		}
		d.bus.Emit(ctx, ev)
	}
}

// send calls the transport with a per-send timeout while a heartbeat keeps
// the job's lease alive.
func (d *Dispatcher) send(ctx context.Context, workerID string, job *domain.EmailJob) (*domain.Receipt, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	hbDone := make(chan struct{})
	hbStopped := make(chan struct{})
	go func() {
		defer close(hbStopped)
		d.heartbeat(sendCtx, hbDone, workerID, job.ID)
	}()
	defer func() {
		close(hbDone)
		<-hbStopped
	}()

	receipt, err := d.sender.Send(sendCtx, transport.NewMessage(job, d.cfg.DefaultFrom))
	switch {
	case err != nil:
		return nil, err
	case receipt == nil:
		return nil, ErrNoReceipt
	case receipt.MessageID == "":
		// Accepted by the transport, so a retry would deliver twice.
		d.log.Warn("receipt has no message id", "job_id", job.ID, "transport", receipt.Transport)
	}
	return receipt, nil
}

func (d *Dispatcher) heartbeat(ctx context.Context, done <-chan struct{}, workerID, jobID string) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := d.store.ExtendLease(ctx, jobID, workerID)
			if errors.Is(err, queue.ErrLeaseLost) {
				d.log.Warn("lease lost during send", "job_id", jobID, "worker_id", workerID)
				return
			}
			if err != nil {
				d.log.Warn("extend lease failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (d *Dispatcher) markError(op string, job *domain.EmailJob, err error) {
	if errors.Is(err, queue.ErrLeaseLost) {
		// recovery reclaimed the job while we were sending; the reclaimed
		// copy owns the outcome now
		d.log.Warn("lease lost before "+op, "job_id", job.ID)
		return
	}
	d.log.Error("record outcome failed", "op", op, "job_id", job.ID, "error", err)
}
