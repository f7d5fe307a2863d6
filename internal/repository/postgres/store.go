// Package postgres is the durable queue.Store backed by PostgreSQL through
// lib/pq. Claims use FOR UPDATE SKIP LOCKED so many worker processes can poll
// the same table; bulk inserts stream through COPY inside one transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/lib/pq"
)

var _ queue.Store = (*Store)(nil)

const table = "email_jobs"

var columns = []string{
	"id", "seq", "to_addr", "subject", "html", "text_body", "from_addr",
	"priority", "state", "attempt_count", "max_attempts", "last_error",
	"message_id", "worker_id", "run_at", "lease_expires_at",
	"created_at", "updated_at", "finished_at",
}

// copyColumns are written by EnqueueBulk; seq comes from the sequence.
var copyColumns = []string{
	"id", "to_addr", "subject", "html", "text_body", "from_addr",
	"priority", "state", "attempt_count", "max_attempts",
	"run_at", "created_at", "updated_at",
}

func selectList(prefix string) string {
	if prefix == "" {
		return strings.Join(columns, ", ")
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = prefix + "." + c
	}
	return strings.Join(out, ", ")
}

// Store implements queue.Store on a *sql.DB.
type Store struct {
	db   *sql.DB
	opts queue.Options
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithOptions(o queue.Options) Option {
	return func(s *Store) { s.opts = o.Normalize() }
}

// WithClock replaces time.Now for lease and RunAt arithmetic.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, opts: queue.DefaultOptions(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open connects to dsn, applies pool limits and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// DB exposes the handle for components that share the connection pool,
// such as the advisory lock.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Enqueue(ctx context.Context, job *domain.EmailJob) (string, error) {
	if err := queue.Prepare(job, s.opts, s.now()); err != nil {
		return "", err
	}
	p := job.Payload
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO email_jobs
			(id, to_addr, subject, html, text_body, from_addr, priority, state,
			 attempt_count, max_attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, $10, $10)
		RETURNING seq
	`, job.ID, p.To, p.Subject, p.HTML, p.Text, p.From, job.Priority,
		string(domain.JobWaiting), job.MaxAttempts, job.CreatedAt,
	).Scan(&job.Seq)
	if err != nil {
		return "", enqueueError("enqueue", err)
	}
	return job.ID, nil
}

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// enqueueError reports a duplicate job id as queue.ErrInvalidJob; anything
// else is a store failure.
func enqueueError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: duplicate job id (%s)", queue.ErrInvalidJob, pqErr.Detail)
	}
	return queue.Unavailable(op, err)
}

// EnqueueBulk streams the batch through COPY in one transaction. Any row
// error aborts the transaction, so a chunk is stored whole or not at all.
func (s *Store) EnqueueBulk(ctx context.Context, jobs []*domain.EmailJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	ids, err := queue.PrepareAll(jobs, s.opts, s.now())
	if err != nil {
		return nil, err
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, queue.Unavailable("enqueue_bulk", fmt.Errorf("begin transaction: %w", err))
	}
	defer txn.Rollback()

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(table, copyColumns...))
	if err != nil {
		return nil, queue.Unavailable("enqueue_bulk", fmt.Errorf("prepare COPY: %w", err))
	}

	for i, j := range jobs {
		p := j.Payload
		if _, err := stmt.ExecContext(ctx,
			j.ID, p.To, p.Subject, p.HTML, p.Text, p.From,
			j.Priority, string(domain.JobWaiting), 0, j.MaxAttempts,
			j.RunAt, j.CreatedAt, j.UpdatedAt,
		); err != nil {
			stmt.Close()
			return nil, enqueueError("enqueue_bulk", fmt.Errorf("copy row %d: %w", i, err))
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return nil, enqueueError("enqueue_bulk", fmt.Errorf("flush COPY: %w", err))
	}
	if err := stmt.Close(); err != nil {
		return nil, enqueueError("enqueue_bulk", fmt.Errorf("close COPY: %w", err))
	}
	if err := txn.Commit(); err != nil {
		return nil, enqueueError("enqueue_bulk", fmt.Errorf("commit: %w", err))
	}
	return ids, nil
}

func (s *Store) DequeueNext(ctx context.Context, workerID string) (*domain.EmailJob, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		WITH next AS (
			SELECT id FROM email_jobs
			WHERE state = 'waiting'
			   OR (state = 'delayed' AND run_at <= $2)
			ORDER BY priority ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE email_jobs j
		SET state = 'active',
			worker_id = $1,
			lease_expires_at = $3,
			updated_at = $2
		FROM next
		WHERE j.id = next.id
		RETURNING `+selectList("j"),
		workerID, now, now.Add(s.opts.LeaseTTL),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queue.Unavailable("dequeue", err)
	}
	return job, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id, workerID string, receipt *domain.Receipt) error {
	var messageID string
	if receipt != nil {
		messageID = receipt.MessageID
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET state = 'completed',
			attempt_count = attempt_count + 1,
			message_id = $3,
			last_error = '',
			worker_id = '',
			lease_expires_at = NULL,
			finished_at = $4,
			updated_at = $4
		WHERE id = $1 AND state = 'active' AND worker_id = $2
	`, id, workerID, messageID, now)
	return fenced("mark_completed", res, err)
}

func (s *Store) MarkFailed(ctx context.Context, id, workerID string, cause error) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET state = 'failed',
			attempt_count = attempt_count + 1,
			last_error = $3,
			worker_id = '',
			lease_expires_at = NULL,
			finished_at = $4,
			updated_at = $4
		WHERE id = $1 AND state = 'active' AND worker_id = $2
	`, id, workerID, queue.ErrorText(cause), now)
	return fenced("mark_failed", res, err)
}

// MarkRetry decides between waiting, delayed and failed in one statement so
// the attempt budget is checked against the row as it is locked.
func (s *Store) MarkRetry(ctx context.Context, id, workerID string, cause error, delay time.Duration) (*domain.EmailJob, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE email_jobs
		SET attempt_count = attempt_count + 1,
			last_error = $3,
			worker_id = '',
			lease_expires_at = NULL,
			updated_at = $4,
			state = CASE
				WHEN attempt_count + 1 >= max_attempts THEN 'failed'
				WHEN $6 THEN 'delayed'
				ELSE 'waiting'
			END,
			run_at = CASE
				WHEN attempt_count + 1 >= max_attempts THEN run_at
				ELSE $5
			END,
			finished_at = CASE
				WHEN attempt_count + 1 >= max_attempts THEN $4
				ELSE NULL
			END
		WHERE id = $1 AND state = 'active' AND worker_id = $2
		RETURNING `+selectList(""),
		id, workerID, queue.ErrorText(cause), now, now.Add(delay), delay > 0,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrLeaseLost
	}
	if err != nil {
		return nil, queue.Unavailable("mark_retry", err)
	}
	return job, nil
}

func (s *Store) ExtendLease(ctx context.Context, id, workerID string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE email_jobs
		SET lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND state = 'active' AND worker_id = $2
	`, id, workerID, now.Add(s.opts.LeaseTTL), now)
	return fenced("extend_lease", res, err)
}

func (s *Store) ReclaimExpired(ctx context.Context) ([]*domain.EmailJob, error) {
	now := s.now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE email_jobs
		SET attempt_count = attempt_count + 1,
			last_error = $2,
			worker_id = '',
			lease_expires_at = NULL,
			updated_at = $1,
			run_at = $1,
			state = CASE
				WHEN attempt_count + 1 >= max_attempts THEN 'failed'
				ELSE 'waiting'
			END,
			finished_at = CASE
				WHEN attempt_count + 1 >= max_attempts THEN $1
				ELSE NULL
			END
		WHERE id IN (
			SELECT id FROM email_jobs
			WHERE state = 'active' AND lease_expires_at <= $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+selectList(""),
		now, queue.LeaseExpiredError,
	)
	if err != nil {
		return nil, queue.Unavailable("reclaim", err)
	}
	defer rows.Close()

	var out []*domain.EmailJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, queue.Unavailable("reclaim", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, queue.Unavailable("reclaim", err)
	}
	return out, nil
}

func (s *Store) Counts(ctx context.Context) (domain.QueueStats, error) {
	var st domain.QueueStats
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM email_jobs GROUP BY state`)
	if err != nil {
		return st, queue.Unavailable("counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return st, queue.Unavailable("counts", err)
		}
		switch domain.JobState(state) {
		case domain.JobWaiting:
			st.Waiting = n
		case domain.JobActive:
			st.Active = n
		case domain.JobCompleted:
			st.Completed = n
		case domain.JobFailed:
			st.Failed = n
		case domain.JobDelayed:
			st.Delayed = n
		}
	}
	if err := rows.Err(); err != nil {
		return st, queue.Unavailable("counts", err)
	}
	return st, nil
}

func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM email_jobs WHERE state <> 'active'`)
	if err != nil {
		return 0, queue.Unavailable("clear", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) EvictFinished(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM email_jobs
		WHERE state IN ('completed', 'failed') AND finished_at < $1
	`, olderThan)
	if err != nil {
		return 0, queue.Unavailable("evict", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.EmailJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectList("")+` FROM email_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrJobNotFound
	}
	if err != nil {
		return nil, queue.Unavailable("get", err)
	}
	return j, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return queue.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.EmailJob, error) {
	var (
		j             domain.EmailJob
		state         string
		lease, finish sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.Seq, &j.Payload.To, &j.Payload.Subject, &j.Payload.HTML,
		&j.Payload.Text, &j.Payload.From, &j.Priority, &state,
		&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.MessageID,
		&j.WorkerID, &j.RunAt, &lease, &j.CreatedAt, &j.UpdatedAt, &finish,
	)
	if err != nil {
		return nil, err
	}
	j.State = domain.JobState(state)
	if lease.Valid {
		t := lease.Time
		j.LeaseExpiresAt = &t
	}
	if finish.Valid {
		t := finish.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

// fenced maps an UPDATE guarded on (state, worker_id) to ErrLeaseLost when
// no row matched.
func fenced(op string, res sql.Result, err error) error {
	if err != nil {
		return queue.Unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return queue.Unavailable(op, err)
	}
	if n == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}
