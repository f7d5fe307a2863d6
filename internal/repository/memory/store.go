// Package memory is an in-process queue.Store. It is safe for concurrent use
// and intended for tests and single-process development; nothing survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/queue"
)

var _ queue.Store = (*Store)(nil)

// Store keeps every job in a map guarded by one mutex. Each operation is a
// single critical section, which makes claims and bulk inserts atomic.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*domain.EmailJob
	seq  int64
	opts queue.Options
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithOptions overrides lease TTL and attempt defaults.
func WithOptions(o queue.Options) Option {
	return func(s *Store) { s.opts = o.Normalize() }
}

// WithClock replaces time.Now, for tests that need to move time forward.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*domain.EmailJob),
		opts: queue.DefaultOptions(),
		now:  time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Enqueue(ctx context.Context, job *domain.EmailJob) (string, error) {
	ids, err := s.EnqueueBulk(ctx, []*domain.EmailJob{job})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *Store) EnqueueBulk(_ context.Context, jobs []*domain.EmailJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids, err := queue.PrepareAll(jobs, s.opts, now)
	if err != nil {
		return nil, err
	}
	for i, j := range jobs {
		if _, dup := s.jobs[j.ID]; dup {
			return nil, fmt.Errorf("job %d: %w: id %q already exists", i, queue.ErrInvalidJob, j.ID)
		}
	}
	for _, j := range jobs {
		s.seq++
		j.Seq = s.seq
		s.jobs[j.ID] = j.Clone()
	}
	return ids, nil
}

func (s *Store) DequeueNext(_ context.Context, workerID string) (*domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *domain.EmailJob
	for _, j := range s.jobs {
		if !eligible(j, now) {
			continue
		}
		if next == nil || queue.Less(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}

	lease := now.Add(s.opts.LeaseTTL)
	next.State = domain.JobActive
	next.WorkerID = workerID
	next.LeaseExpiresAt = &lease
	next.UpdatedAt = now
	return next.Clone(), nil
}

func eligible(j *domain.EmailJob, now time.Time) bool {
	switch j.State {
	case domain.JobWaiting:
		return true
	case domain.JobDelayed:
		return !j.RunAt.After(now)
	}
	return false
}

func (s *Store) MarkCompleted(_ context.Context, id, workerID string, receipt *domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leased(id, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	j.AttemptCount++
	j.LastError = ""
	if receipt != nil {
		j.MessageID = receipt.MessageID
	}
	finish(j, domain.JobCompleted, now)
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id, workerID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leased(id, workerID)
	if err != nil {
		return err
	}
	j.AttemptCount++
	j.LastError = queue.ErrorText(cause)
	finish(j, domain.JobFailed, s.now())
	return nil
}

func (s *Store) MarkRetry(_ context.Context, id, workerID string, cause error, delay time.Duration) (*domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leased(id, workerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	j.AttemptCount++
	j.LastError = queue.ErrorText(cause)
	if j.AttemptCount >= j.MaxAttempts {
		finish(j, domain.JobFailed, now)
		return j.Clone(), nil
	}
	release(j, now, delay)
	return j.Clone(), nil
}

func (s *Store) ExtendLease(_ context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leased(id, workerID)
	if err != nil {
		return err
	}
	now := s.now()
	lease := now.Add(s.opts.LeaseTTL)
	j.LeaseExpiresAt = &lease
	j.UpdatedAt = now
	return nil
}

func (s *Store) ReclaimExpired(_ context.Context) ([]*domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var reclaimed []*domain.EmailJob
	for _, j := range s.jobs {
		if j.State != domain.JobActive || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		j.AttemptCount++
		j.LastError = queue.LeaseExpiredError
		if j.AttemptCount >= j.MaxAttempts {
			finish(j, domain.JobFailed, now)
		} else {
			release(j, now, 0)
		}
		reclaimed = append(reclaimed, j.Clone())
	}
	sort.Slice(reclaimed, func(a, b int) bool { return reclaimed[a].Seq < reclaimed[b].Seq })
	return reclaimed, nil
}

func (s *Store) Counts(_ context.Context) (domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st domain.QueueStats
	for _, j := range s.jobs {
		switch j.State {
		case domain.JobWaiting:
			st.Waiting++
		case domain.JobActive:
			st.Active++
		case domain.JobCompleted:
			st.Completed++
		case domain.JobFailed:
			st.Failed++
		case domain.JobDelayed:
			st.Delayed++
		}
	}
	return st, nil
}

func (s *Store) Clear(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if j.State == domain.JobActive {
			continue
		}
		delete(s.jobs, id)
		n++
	}
	return n, nil
}

func (s *Store) EvictFinished(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, j := range s.jobs {
		if !j.State.IsTerminal() || j.FinishedAt == nil || !j.FinishedAt.Before(olderThan) {
			continue
		}
		delete(s.jobs, id)
		n++
	}
	return n, nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// leased returns the job only while workerID still holds its lease.
// Callers must hold s.mu.
func (s *Store) leased(id, workerID string) (*domain.EmailJob, error) {
	j, ok := s.jobs[id]
	if !ok || j.State != domain.JobActive || j.WorkerID != workerID {
		return nil, queue.ErrLeaseLost
	}
	return j, nil
}

func finish(j *domain.EmailJob, state domain.JobState, now time.Time) {
	j.State = state
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
}

func release(j *domain.EmailJob, now time.Time, delay time.Duration) {
	j.WorkerID = ""
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	if delay > 0 {
		j.State = domain.JobDelayed
		j.RunAt = now.Add(delay)
		return
	}
	j.State = domain.JobWaiting
	j.RunAt = now
}
