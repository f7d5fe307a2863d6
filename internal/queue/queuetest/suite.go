// Package queuetest holds behaviour tests every queue.Store backend must pass.
package queuetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced time source shared by a store and its test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds a fresh, empty store driven by clock.
type Factory func(t *testing.T, clock *Clock, opts queue.Options) queue.Store

// Options used by the suite: short lease so expiry is easy to reach.
var Options = queue.Options{LeaseTTL: time.Minute, DefaultMaxAttempts: 3}

// Run executes the whole suite against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s queue.Store, c *Clock)
	}{
		{"StatsAfterEnqueue", testStatsAfterEnqueue},
		{"PriorityThenFIFO", testPriorityThenFIFO},
		{"DequeueEmpty", testDequeueEmpty},
		{"ConcurrentDequeueUnique", testConcurrentDequeueUnique},
		{"CompleteStoresReceipt", testCompleteStoresReceipt},
		{"RetryUntilExhausted", testRetryUntilExhausted},
		{"RetryWithDelay", testRetryWithDelay},
		{"MarkFailed", testMarkFailed},
		{"LeaseFencing", testLeaseFencing},
		{"ReclaimExpired", testReclaimExpired},
		{"ExtendLease", testExtendLease},
		{"ClearKeepsActive", testClearKeepsActive},
		{"EvictFinished", testEvictFinished},
		{"BulkRejectsInvalid", testBulkRejectsInvalid},
		{"DuplicateIDKeepsOriginal", testDuplicateIDKeepsOriginal},
		{"DuplicateIDWithinBatch", testDuplicateIDWithinBatch},
		{"PriorityOutOfRange", testPriorityOutOfRange},
		{"GetMissing", testGetMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClock()
			s := newStore(t, c, Options)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s, c)
		})
	}
}

func job(to string, priority int) *domain.EmailJob {
	return queue.NewJob(domain.EmailPayload{To: to, Subject: "hello", Text: "body"}, priority)
}

func enqueueN(t *testing.T, s queue.Store, n int) []string {
	t.Helper()
	jobs := make([]*domain.EmailJob, n)
	for i := range jobs {
		jobs[i] = job(fmt.Sprintf("user%d@example.com", i), 0)
	}
	ids, err := s.EnqueueBulk(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, ids, n)
	return ids
}

func testStatsAfterEnqueue(t *testing.T, s queue.Store, _ *Clock) {
	enqueueN(t, s, 10)
	st, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Waiting: 10}, st)
}

func testPriorityThenFIFO(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	low, err := s.Enqueue(ctx, job("low@example.com", 5))
	require.NoError(t, err)
	first, err := s.Enqueue(ctx, job("first@example.com", 0))
	require.NoError(t, err)
	second, err := s.Enqueue(ctx, job("second@example.com", 0))
	require.NoError(t, err)
	urgent, err := s.Enqueue(ctx, job("urgent@example.com", -1))
	require.NoError(t, err)

	var got []string
	for i := 0; i < 4; i++ {
		j, err := s.DequeueNext(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, j)
		assert.Equal(t, domain.JobActive, j.State)
		assert.Equal(t, "w1", j.WorkerID)
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{urgent, first, second, low}, got)
}

func testDequeueEmpty(t *testing.T, s queue.Store, _ *Clock) {
	j, err := s.DequeueNext(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testConcurrentDequeueUnique(t *testing.T, s queue.Store, _ *Clock) {
	const n = 50
	enqueueN(t, s, n)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				j, err := s.DequeueNext(context.Background(), worker)
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
	st, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(n), st.Active)
}

func testCompleteStoresReceipt(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	id, err := s.Enqueue(ctx, job("a@example.com", 0))
	require.NoError(t, err)
	_, err = s.DequeueNext(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, id, "w1", &domain.Receipt{MessageID: "msg-1"}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "msg-1", got.MessageID)
	assert.NotNil(t, got.FinishedAt)
}

func testRetryUntilExhausted(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	id, err := s.Enqueue(ctx, job("a@example.com", 0))
	require.NoError(t, err)

	cause := errors.New("connection reset")
	for attempt := 1; attempt <= 3; attempt++ {
		j, err := s.DequeueNext(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, j, "attempt %d", attempt)
		updated, err := s.MarkRetry(ctx, id, "w1", cause, 0)
		require.NoError(t, err)
		assert.Equal(t, attempt, updated.AttemptCount)
		if attempt < 3 {
			assert.Equal(t, domain.JobWaiting, updated.State)
		} else {
			assert.Equal(t, domain.JobFailed, updated.State)
		}
	}

	j, err := s.DequeueNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, j, "failed job must not be dispatched again")

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, "connection reset", got.LastError)
}

func testRetryWithDelay(t *testing.T, s queue.Store, c *Clock) {
	ctx := context.Background()
	id, err := s.Enqueue(ctx, job("a@example.com", 0))
	require.NoError(t, err)
	_, err = s.DequeueNext(ctx, "w1")
	require.NoError(t, err)

	updated, err := s.MarkRetry(ctx, id, "w1", errors.New("timeout"), 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDelayed, updated.State)

	st, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Delayed)

	j, err := s.DequeueNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, j, "delayed job is not eligible before RunAt")

	c.Advance(31 * time.Second)
	j, err = s.DequeueNext(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, 1, j.AttemptCount)
}

func testMarkFailed(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	id, err := s.Enqueue(ctx, job("a@example.com", 0))
	require.NoError(t, err)
	_, err = s.DequeueNext(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, id, "w1", errors.New("mailbox does not exist")))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "mailbox does not exist", got.LastError)
}

func testLeaseFencing(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	id, err := s.Enqueue(ctx, job("a@example.com", 0))
	require.NoError(t, err)

	err = s.MarkCompleted(ctx, id, "w1", &domain.Receipt{MessageID: "m"})
	assert.ErrorIs(t, err, queue.ErrLeaseLost, "waiting job has no lease")

	_, err = s.DequeueNext(ctx, "w1")
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkCompleted(ctx, id, "w2", &domain.Receipt{MessageID: "m"}), queue.ErrLeaseLost)
	assert.ErrorIs(t, s.ExtendLease(ctx, id, "w2"), queue.ErrLeaseLost)
	assert.ErrorIs(t, s.MarkCompleted(ctx, "missing", "w1", nil), queue.ErrLeaseLost)

	require.NoError(t, s.MarkCompleted(ctx, id, "w1", &domain.Receipt{MessageID: "m"}))
	assert.ErrorIs(t, s.MarkFailed(ctx, id, "w1", errors.New("late")), queue.ErrLeaseLost)
}

func testReclaimExpired(t *testing.T, s queue.Store, c *Clock) {
	ctx := context.Background()
	retry := job("retry@example.com", 0)
	retryID, err := s.Enqueue(ctx, retry)
	require.NoError(t, err)
	last := job("last@example.com", 1)
	last.MaxAttempts = 1
	lastID, err := s.Enqueue(ctx, last)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		j, err := s.DequeueNext(ctx, "dead-worker")
		require.NoError(t, err)
		require.NotNil(t, j)
	}

	reclaimed, err := s.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed, "leases still valid")

	c.Advance(Options.LeaseTTL + time.Second)
	reclaimed, err = s.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Len(t, reclaimed, 2)

	got, err := s.Get(ctx, retryID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobWaiting, got.State)
	assert.Equal(t, 1, got.AttemptCount)

	got, err = s.Get(ctx, lastID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, got.State)
	assert.Equal(t, queue.LeaseExpiredError, got.LastError)

	assert.ErrorIs(t, s.MarkCompleted(ctx, retryID, "dead-worker", nil), queue.ErrLeaseLost)
}

func testExtendLease(t *testing.T, s queue.Store, c *Clock) {
	ctx := context.Background()
	id, err := s.Enqueue(ctx, job("a@example.com", 0))
	require.NoError(t, err)
	_, err = s.DequeueNext(ctx, "w1")
	require.NoError(t, err)

	c.Advance(Options.LeaseTTL - time.Second)
	require.NoError(t, s.ExtendLease(ctx, id, "w1"))
	c.Advance(2 * time.Second)

	reclaimed, err := s.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobActive, got.State)
}

func testClearKeepsActive(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	ids := enqueueN(t, s, 5)
	active, err := s.DequeueNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, ids[0], active.ID)

	done, err := s.DequeueNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, done.ID, "w1", &domain.Receipt{MessageID: "m"}))

	removed, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	st, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Active: 1}, st)

	// the in-flight job still reaches a terminal state
	require.NoError(t, s.MarkCompleted(ctx, active.ID, "w1", &domain.Receipt{MessageID: "m2"}))
	got, err := s.Get(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, got.State)
}

func testEvictFinished(t *testing.T, s queue.Store, c *Clock) {
	ctx := context.Background()
	enqueueN(t, s, 2)
	j, err := s.DequeueNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, j.ID, "w1", &domain.Receipt{MessageID: "m"}))

	n, err := s.EvictFinished(ctx, c.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	c.Advance(2 * time.Hour)
	n, err = s.EvictFinished(ctx, c.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, j.ID)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	st, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Waiting: 1}, st)
}

func testBulkRejectsInvalid(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.EnqueueBulk(ctx, []*domain.EmailJob{job("a@example.com", 0), job("", 0)})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)

	st, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{}, st, "nothing from the rejected chunk is stored")
}

func testDuplicateIDKeepsOriginal(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	orig := job("a@example.com", 0)
	orig.ID = "fixed-id"
	_, err := s.Enqueue(ctx, orig)
	require.NoError(t, err)
	claimed, err := s.DequeueNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	again := job("b@example.com", 0)
	again.ID = "fixed-id"
	_, err = s.Enqueue(ctx, again)
	assert.ErrorIs(t, err, queue.ErrInvalidJob)

	other := job("c@example.com", 0)
	_, err = s.EnqueueBulk(ctx, []*domain.EmailJob{other, {Payload: domain.EmailPayload{To: "d@example.com"}, ID: "fixed-id"}})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)

	next, err := s.DequeueNext(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, next, "the rejected jobs were not queued")

	got, err := s.Get(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Payload.To)
	assert.Equal(t, domain.JobActive, got.State)
	assert.Equal(t, "w1", got.WorkerID)
	require.NoError(t, s.MarkCompleted(ctx, "fixed-id", "w1", &domain.Receipt{MessageID: "m"}))

	st, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Completed: 1}, st)
}

func testDuplicateIDWithinBatch(t *testing.T, s queue.Store, _ *Clock) {
	a, b := job("a@example.com", 0), job("b@example.com", 0)
	a.ID, b.ID = "twin", "twin"
	ids, err := s.EnqueueBulk(context.Background(), []*domain.EmailJob{a, b})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	assert.Nil(t, ids)

	st, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{}, st)
}

func testPriorityOutOfRange(t *testing.T, s queue.Store, _ *Clock) {
	ctx := context.Background()
	_, err := s.Enqueue(ctx, job("low@example.com", 5000))
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	_, err = s.Enqueue(ctx, job("neg@example.com", queue.MinPriority-1))
	assert.ErrorIs(t, err, queue.ErrInvalidJob)

	high, err := s.Enqueue(ctx, job("high@example.com", queue.MinPriority))
	require.NoError(t, err)
	low, err := s.Enqueue(ctx, job("low@example.com", queue.MaxPriority))
	require.NoError(t, err)
	mid, err := s.Enqueue(ctx, job("mid@example.com", queue.MaxPriority-1))
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		j, err := s.DequeueNext(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, j)
		got = append(got, j.ID)
	}
	assert.Equal(t, []string{high, mid, low}, got)
}

func testGetMissing(t *testing.T, s queue.Store, _ *Clock) {
	_, err := s.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}
