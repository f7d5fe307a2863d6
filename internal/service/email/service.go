package email

import (
	"context"
	"fmt"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/events"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/ignite/mailqueue/internal/transport"
)

// DefaultChunkSize is used when neither the caller nor the service
// configuration picks a chunk size.
const DefaultChunkSize = 100

// Notifier is told after jobs were committed so idle workers wake early.
type Notifier interface {
	Notify()
}

// Pauser reports whether bulk intake should be refused.
type Pauser interface {
	IsPaused() bool
}

// Service implements the email queue use cases. All public methods are safe
// for concurrent use if the underlying store is.
type Service struct {
	store       queue.Store
	sender      transport.Sender
	defaultFrom string
	bus         *events.Bus
	notifier    Notifier
	pauser      Pauser
	chunkSize   int
	log         *logger.Component
}

// Option configures a Service.
type Option func(*Service)

// WithSender enables SendEmail through s. defaultFrom applies when a payload
// has no sender.
func WithSender(s transport.Sender, defaultFrom string) Option {
	return func(svc *Service) {
		svc.sender = s
		svc.defaultFrom = defaultFrom
	}
}

func WithEvents(bus *events.Bus) Option { return func(s *Service) { s.bus = bus } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithBackpressure(p Pauser) Option { return func(s *Service) { s.pauser = p } }

// WithChunkSize sets the default chunk size for SendBulk.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewService creates an email service backed by the given store.
func NewService(store queue.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		chunkSize: DefaultChunkSize,
		log:       logger.For("email.service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// BulkResult summarizes a successful bulk send.
type BulkResult struct {
	Queued int      `json:"queued"`
	Chunks int      `json:"chunks"`
	IDs    []string `json:"-"`
}

// SendBulk queues one job per recipient. Recipients are split into
// consecutive chunks of chunkSize (the service default when <= 0) and each
// chunk is enqueued atomically, in order. On a failing chunk it stops and
// returns a *BulkError; earlier chunks remain queued.
func (s *Service) SendBulk(ctx context.Context, req *domain.BulkRequest, chunkSize int) (*BulkResult, error) {
	if err := ValidateBulk(req); err != nil {
		return nil, err
	}
	if s.pauser != nil && s.pauser.IsPaused() {
		return nil, ErrBackpressure
	}
	if chunkSize <= 0 {
		chunkSize = s.chunkSize
	}

	res := &BulkResult{IDs: make([]string, 0, len(req.Recipients))}
	for i, chunk := range Chunk(req.Recipients, chunkSize) {
		jobs := make([]*domain.EmailJob, len(chunk))
		for k, r := range chunk {
			jobs[k] = queue.NewJob(req.PayloadFor(r), 0)
		}
		ids, err := s.store.EnqueueBulk(ctx, jobs)
		if err != nil {
			s.log.Error("bulk chunk failed", "chunk", i, "queued", res.Queued, "error", err)
			return nil, &BulkError{Queued: res.Queued, Chunk: i, Err: err}
		}
		res.Queued += len(ids)
		res.Chunks++
		res.IDs = append(res.IDs, ids...)
		s.emitEnqueued(ctx, ids)
		s.notify()
	}

	s.log.Info("bulk send queued", "queued", res.Queued, "chunks", res.Chunks, "chunk_size", chunkSize)
	return res, nil
}

// QueueBulkEmails queues the whole request as one atomic insert.
func (s *Service) QueueBulkEmails(ctx context.Context, req *domain.BulkRequest) ([]string, error) {
	if err := ValidateBulk(req); err != nil {
		return nil, err
	}
	jobs := make([]*domain.EmailJob, len(req.Recipients))
	for i, r := range req.Recipients {
		jobs[i] = queue.NewJob(req.PayloadFor(r), 0)
	}
	ids, err := s.store.EnqueueBulk(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("queue bulk emails: %w", err)
	}
	s.emitEnqueued(ctx, ids)
	s.notify()
	return ids, nil
}

// QueueEmail queues a single email. Lower priority values are sent first.
func (s *Service) QueueEmail(ctx context.Context, payload *domain.EmailPayload, priority int) (string, error) {
	if err := ValidatePayload(payload); err != nil {
		return "", err
	}
	id, err := s.store.Enqueue(ctx, queue.NewJob(*payload, priority))
	if err != nil {
		return "", fmt.Errorf("queue email: %w", err)
	}
	s.emitEnqueued(ctx, []string{id})
	s.notify()
	return id, nil
}

// SendEmail delivers one email immediately, bypassing the queue.
func (s *Service) SendEmail(ctx context.Context, payload *domain.EmailPayload) (*domain.Receipt, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}
	if s.sender == nil {
		return nil, transport.ErrNotConfigured
	}
	job := &domain.EmailJob{Payload: *payload}
	receipt, err := s.sender.Send(ctx, transport.NewMessage(job, s.defaultFrom))
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	return receipt, nil
}

// GetQueueStats returns a snapshot of jobs per state.
func (s *Service) GetQueueStats(ctx context.Context) (domain.QueueStats, error) {
	return s.store.Counts(ctx)
}

// ClearQueue removes every job that is not currently being sent.
func (s *Service) ClearQueue(ctx context.Context) (int64, error) {
	n, err := s.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	s.bus.Emit(ctx, events.Event{Kind: events.KindCleared, Count: n})
	return n, nil
}

// GetJob returns one job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.EmailJob, error) {
	return s.store.Get(ctx, id)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) emitEnqueued(ctx context.Context, ids []string) {
	e := events.Event{Kind: events.KindEnqueued, Count: int64(len(ids))}
	if len(ids) == 1 {
		e.JobID = ids[0]
	}
	s.bus.Emit(ctx, e)
}

func (s *Service) notify() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
