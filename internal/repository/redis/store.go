// Package redis is a queue.Store on Redis. Each state is a sorted set and
// each job a hash; every state transition runs as one Lua script so claims
// and lease fencing are atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/queue"
	goredis "github.com/redis/go-redis/v9"
)

var _ queue.Store = (*Store)(nil)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "mailqueue"

// Store implements queue.Store. The client is owned by the caller.
type Store struct {
	client goredis.UniversalClient
	keys   keys
	opts   queue.Options
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithOptions(o queue.Options) Option {
	return func(s *Store) { s.opts = o.Normalize() }
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keys = keys{prefix: prefix}
		}
	}
}

// WithClock replaces time.Now. Scripts take time from the caller so every
// process must run a reasonably synced clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New builds a store over an existing client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		keys:   keys{prefix: DefaultPrefix},
		opts:   queue.DefaultOptions(),
		now:    time.Now,
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

// EnqueueBulk reserves a block of sequence numbers, then writes every hash
// and waiting entry in one script. An id that is already stored rejects
// the whole batch with queue.ErrInvalidJob and nothing is written.
func (s *Store) EnqueueBulk(ctx context.Context, jobs []*domain.EmailJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	ids, err := queue.PrepareAll(jobs, s.opts, s.now())
	if err != nil {
		return nil, err
	}

	last, err := s.client.IncrBy(ctx, s.keys.seq(), int64(len(jobs))).Result()
	if err != nil {
		return nil, queue.Unavailable("enqueue_bulk", err)
	}
	first := last - int64(len(jobs)) + 1

	args := make([]any, 0, 2+len(jobFields)+len(jobs)*(len(jobFields)+2))
	args = append(args, s.keys.jobPrefix(), len(jobFields))
	for _, f := range jobFields {
		args = append(args, f)
	}
	for i, j := range jobs {
		j.Seq = first + int64(i)
		args = jobArgs(args, j, rank(j.Priority, j.Seq))
	}

	taken, err := enqueueScript.Run(ctx, s.client, []string{s.keys.waiting()}, args...).Int64()
	if err != nil {
		return nil, queue.Unavailable("enqueue_bulk", err)
	}
	if taken > 0 {
		return nil, fmt.Errorf("job %d: %w: id %q already exists", taken-1, queue.ErrInvalidJob, ids[taken-1])
	}
	return ids, nil
}

func (s *Store) DequeueNext(ctx context.Context, workerID string) (*domain.EmailJob, error) {
	now := s.now()
	res, err := dequeueScript.Run(ctx, s.client,
		[]string{s.keys.waiting(), s.keys.delayed(), s.keys.active()},
		ms(now), ms(now.Add(s.opts.LeaseTTL)), workerID, s.keys.jobPrefix(),
	).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, queue.Unavailable("dequeue", err)
	}
	return decodeReply(res)
}

func (s *Store) MarkCompleted(ctx context.Context, id, workerID string, receipt *domain.Receipt) error {
	var messageID string
	if receipt != nil {
		messageID = receipt.MessageID
	}
	return s.finish(ctx, "mark_completed", id, workerID, domain.JobCompleted, s.keys.completed(), messageID, "")
}

func (s *Store) MarkFailed(ctx context.Context, id, workerID string, cause error) error {
	return s.finish(ctx, "mark_failed", id, workerID, domain.JobFailed, s.keys.failed(), "", queue.ErrorText(cause))
}

func (s *Store) finish(ctx context.Context, op, id, workerID string, state domain.JobState, target, messageID, lastErr string) error {
	n, err := finishScript.Run(ctx, s.client,
		[]string{s.keys.active(), target},
		s.keys.jobPrefix(), id, workerID, ms(s.now()), string(state), messageID, lastErr,
	).Int64()
	if err != nil {
		return queue.Unavailable(op, err)
	}
	if n == leaseLost {
		return queue.ErrLeaseLost
	}
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id, workerID string, cause error, delay time.Duration) (*domain.EmailJob, error) {
	now := s.now()
	delayed := "0"
	if delay > 0 {
		delayed = "1"
	}
	res, err := retryScript.Run(ctx, s.client,
		[]string{s.keys.active(), s.keys.waiting(), s.keys.delayed(), s.keys.failed()},
		s.keys.jobPrefix(), id, workerID, ms(now), queue.ErrorText(cause), ms(now.Add(delay)), delayed,
	).Result()
	if err != nil {
		return nil, queue.Unavailable("mark_retry", err)
	}
	if n, ok := res.(int64); ok && n == leaseLost {
		return nil, queue.ErrLeaseLost
	}
	return decodeReply(res)
}

func (s *Store) ExtendLease(ctx context.Context, id, workerID string) error {
	now := s.now()
	n, err := extendScript.Run(ctx, s.client,
		[]string{s.keys.active()},
		s.keys.jobPrefix(), id, workerID, ms(now), ms(now.Add(s.opts.LeaseTTL)),
	).Int64()
	if err != nil {
		return queue.Unavailable("extend_lease", err)
	}
	if n == leaseLost {
		return queue.ErrLeaseLost
	}
	return nil
}

func (s *Store) ReclaimExpired(ctx context.Context) ([]*domain.EmailJob, error) {
	res, err := reclaimScript.Run(ctx, s.client,
		[]string{s.keys.active(), s.keys.waiting(), s.keys.failed()},
		s.keys.jobPrefix(), ms(s.now()), queue.LeaseExpiredError,
	).Slice()
	if err != nil {
		return nil, queue.Unavailable("reclaim", err)
	}
	out := make([]*domain.EmailJob, 0, len(res))
	for _, r := range res {
		j, err := decodeReply(r)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Seq < out[b].Seq })
	return out, nil
}

func (s *Store) Counts(ctx context.Context) (domain.QueueStats, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.ZCard(ctx, s.keys.waiting())
	active := pipe.ZCard(ctx, s.keys.active())
	completed := pipe.ZCard(ctx, s.keys.completed())
	failed := pipe.ZCard(ctx, s.keys.failed())
	delayed := pipe.ZCard(ctx, s.keys.delayed())
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.QueueStats{}, queue.Unavailable("counts", err)
	}
	return domain.QueueStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

func (s *Store) Clear(ctx context.Context) (int64, error) {
	n, err := clearScript.Run(ctx, s.client,
		[]string{s.keys.waiting(), s.keys.delayed(), s.keys.completed(), s.keys.failed()},
		s.keys.jobPrefix(),
	).Int64()
	if err != nil {
		return 0, queue.Unavailable("clear", err)
	}
	return n, nil
}

func (s *Store) EvictFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := evictScript.Run(ctx, s.client,
		[]string{s.keys.completed(), s.keys.failed()},
		s.keys.jobPrefix(), ms(olderThan),
	).Int64()
	if err != nil {
		return 0, queue.Unavailable("evict", err)
	}
	return n, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.EmailJob, error) {
	m, err := s.client.HGetAll(ctx, s.keys.job(id)).Result()
	if err != nil {
		return nil, queue.Unavailable("get", err)
	}
	if len(m) == 0 {
		return nil, queue.ErrJobNotFound
	}
	return mapToJob(m)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return queue.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// decodeReply turns a flat HGETALL reply from a script into a job.
func decodeReply(res any) (*domain.EmailJob, error) {
	flat, ok := res.([]any)
	if !ok || len(flat)%2 != 0 {
		return nil, fmt.Errorf("redis store: unexpected script reply %T", res)
	}
	m := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		m[k] = v
	}
	return mapToJob(m)
}
