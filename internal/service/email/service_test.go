package email_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/events"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/ignite/mailqueue/internal/repository/memory"
	"github.com/ignite/mailqueue/internal/service/email"
	"github.com/ignite/mailqueue/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkStore records EnqueueBulk batch sizes and can fail a given call.
type chunkStore struct {
	queue.Store
	mu     sync.Mutex
	sizes  []int
	failOn int // 1-based call number; 0 never fails
}

func (s *chunkStore) EnqueueBulk(ctx context.Context, jobs []*domain.EmailJob) ([]string, error) {
	s.mu.Lock()
	s.sizes = append(s.sizes, len(jobs))
	call := len(s.sizes)
	s.mu.Unlock()
	if call == s.failOn {
		return nil, queue.Unavailable("enqueue_bulk", errors.New("connection refused"))
	}
	return s.Store.EnqueueBulk(ctx, jobs)
}

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%d@example.com", i)
	}
	return out
}

func bulk(n int) *domain.BulkRequest {
	return &domain.BulkRequest{
		Recipients: recipients(n),
		Subject:    "Launch",
		HTML:       "<p>hi</p>",
	}
}

type countNotifier struct{ n atomic.Int32 }

func (c *countNotifier) Notify() { c.n.Add(1) }

type paused bool

func (p paused) IsPaused() bool { return bool(p) }

func TestSendBulk_ChunksRecipients(t *testing.T) {
	store := &chunkStore{Store: memory.New()}
	notifier := &countNotifier{}
	svc := email.NewService(store, email.WithNotifier(notifier))

	res, err := svc.SendBulk(context.Background(), bulk(250), 100)
	require.NoError(t, err)
	assert.Equal(t, 250, res.Queued)
	assert.Equal(t, 3, res.Chunks)
	assert.Len(t, res.IDs, 250)
	assert.Equal(t, []int{100, 100, 50}, store.sizes)
	assert.Equal(t, int32(3), notifier.n.Load())

	stats, err := svc.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(250), stats.Waiting)
}

func TestSendBulk_DefaultChunkSize(t *testing.T) {
	store := &chunkStore{Store: memory.New()}
	svc := email.NewService(store)

	res, err := svc.SendBulk(context.Background(), bulk(201), 0)
	require.NoError(t, err)
	assert.Equal(t, 201, res.Queued)
	assert.Equal(t, []int{100, 100, 1}, store.sizes)
}

func TestSendBulk_ConfiguredChunkSize(t *testing.T) {
	store := &chunkStore{Store: memory.New()}
	svc := email.NewService(store, email.WithChunkSize(40))

	_, err := svc.SendBulk(context.Background(), bulk(90), -1)
	require.NoError(t, err)
	assert.Equal(t, []int{40, 40, 10}, store.sizes)
}

func TestSendBulk_SharesContentAcrossJobs(t *testing.T) {
	mem := memory.New()
	svc := email.NewService(mem)
	req := bulk(2)
	req.From = "news@example.com"
	req.Text = "plain"

	res, err := svc.SendBulk(context.Background(), req, 10)
	require.NoError(t, err)

	for i, id := range res.IDs {
		job, err := svc.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, req.Recipients[i], job.Payload.To)
		assert.Equal(t, "Launch", job.Payload.Subject)
		assert.Equal(t, "<p>hi</p>", job.Payload.HTML)
		assert.Equal(t, "plain", job.Payload.Text)
		assert.Equal(t, "news@example.com", job.Payload.From)
		assert.Equal(t, domain.JobWaiting, job.State)
	}
}

func TestSendBulk_ChunkFailureReportsPartialProgress(t *testing.T) {
	store := &chunkStore{Store: memory.New(), failOn: 2}
	svc := email.NewService(store)

	res, err := svc.SendBulk(context.Background(), bulk(250), 100)
	assert.Nil(t, res)

	var bulkErr *email.BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, 100, bulkErr.Queued)
	assert.Equal(t, 1, bulkErr.Chunk)
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)

	// the third chunk is never attempted
	assert.Equal(t, []int{100, 100}, store.sizes)
	stats, err := svc.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.Waiting)
}

func TestSendBulk_Backpressure(t *testing.T) {
	store := &chunkStore{Store: memory.New()}
	svc := email.NewService(store, email.WithBackpressure(paused(true)))

	_, err := svc.SendBulk(context.Background(), bulk(10), 5)
	assert.ErrorIs(t, err, email.ErrBackpressure)
	assert.Empty(t, store.sizes)
}

func TestSendBulk_Validation(t *testing.T) {
	svc := email.NewService(memory.New())
	ctx := context.Background()

	cases := map[string]*domain.BulkRequest{
		"no recipients": {Subject: "s", Text: "t"},
		"bad address":   {Recipients: []string{"ok@example.com", "not-an-address"}, Subject: "s", Text: "t"},
		"no subject":    {Recipients: []string{"a@example.com"}, Text: "t"},
		"no body":       {Recipients: []string{"a@example.com"}, Subject: "s"},
		"bad from":      {Recipients: []string{"a@example.com"}, Subject: "s", Text: "t", From: "nope"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SendBulk(ctx, req, 0)
			assert.ErrorIs(t, err, email.ErrValidation)
		})
	}
	_, err := svc.SendBulk(ctx, nil, 0)
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestQueueBulkEmails_SingleAtomicInsert(t *testing.T) {
	store := &chunkStore{Store: memory.New()}
	svc := email.NewService(store)

	ids, err := svc.QueueBulkEmails(context.Background(), bulk(150))
	require.NoError(t, err)
	assert.Len(t, ids, 150)
	assert.Equal(t, []int{150}, store.sizes)
}

func TestQueueEmail_PriorityAndEvents(t *testing.T) {
	mem := memory.New()
	bus := events.NewBus()
	ch, stop := bus.Channel(4)
	defer stop()
	svc := email.NewService(mem, email.WithEvents(bus))
	ctx := context.Background()

	low, err := svc.QueueEmail(ctx, &domain.EmailPayload{To: "a@example.com", Subject: "s", Text: "t"}, 5)
	require.NoError(t, err)
	high, err := svc.QueueEmail(ctx, &domain.EmailPayload{To: "b@example.com", Subject: "s", Text: "t"}, -1)
	require.NoError(t, err)

	e := <-ch
	assert.Equal(t, events.KindEnqueued, e.Kind)
	assert.Equal(t, low, e.JobID)

	first, err := mem.DequeueNext(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, high, first.ID)

	_, err = svc.QueueEmail(ctx, &domain.EmailPayload{To: "", Subject: "s", Text: "t"}, 0)
	assert.ErrorIs(t, err, email.ErrValidation)
}

func TestSendEmail_BypassesQueue(t *testing.T) {
	var got *transport.Message
	sender := transport.SenderFunc(func(_ context.Context, msg *transport.Message) (*domain.Receipt, error) {
		got = msg
		return &domain.Receipt{MessageID: "direct-1", Transport: "test"}, nil
	})
	mem := memory.New()
	svc := email.NewService(mem, email.WithSender(sender, "noreply@example.com"))

	receipt, err := svc.SendEmail(context.Background(), &domain.EmailPayload{To: "a@example.com", Subject: "s", HTML: "<b>x</b>"})
	require.NoError(t, err)
	assert.Equal(t, "direct-1", receipt.MessageID)
	assert.Equal(t, "noreply@example.com", got.From)

	stats, err := svc.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Waiting)
}

func TestSendEmail_NoSender(t *testing.T) {
	svc := email.NewService(memory.New())
	_, err := svc.SendEmail(context.Background(), &domain.EmailPayload{To: "a@example.com", Subject: "s", Text: "t"})
	assert.ErrorIs(t, err, transport.ErrNotConfigured)
}

func TestClearQueue_EmitsCleared(t *testing.T) {
	mem := memory.New()
	bus := events.NewBus()
	svc := email.NewService(mem, email.WithEvents(bus))
	ctx := context.Background()

	_, err := svc.SendBulk(ctx, bulk(3), 0)
	require.NoError(t, err)

	ch, stop := bus.Channel(1)
	defer stop()
	n, err := svc.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	e := <-ch
	assert.Equal(t, events.KindCleared, e.Kind)
	assert.Equal(t, int64(3), e.Count)
}

func TestChunk(t *testing.T) {
	assert.Empty(t, email.Chunk([]int{}, 3))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, email.Chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, email.Chunk([]int{1, 2, 3}, 10))
}
