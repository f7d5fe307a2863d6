package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/queue"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := New(db, WithClock(func() time.Time { return fixedNow }))
	return s, mock
}

func jobRow(id, state string, attempts int, lease, finished any) *sqlmock.Rows {
	return sqlmock.NewRows(columns).AddRow(
		id, int64(7), "a@example.com", "hello", "<p>hi</p>", "hi", "",
		int64(0), state, int64(attempts), int64(3), "", "",
		"w1", fixedNow, lease, fixedNow, fixedNow, finished,
	)
}

func newJob(to string) *domain.EmailJob {
	return queue.NewJob(domain.EmailPayload{To: to, Subject: "hello", Text: "hi"}, 0)
}

func TestEnqueue(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO email_jobs").
		WithArgs(sqlmock.AnyArg(), "a@example.com", "hello", "", "hi", "", 0, "waiting", 3, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	j := newJob("a@example.com")
	id, err := s.Enqueue(context.Background(), j)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int64(42), j.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueue_StoreUnavailable(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO email_jobs").WillReturnError(errors.New("connection refused"))

	_, err := s.Enqueue(context.Background(), newJob("a@example.com"))
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
}

func TestEnqueue_DuplicateIDIsInvalid(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO email_jobs").
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (id)=(fixed-id) already exists."})

	j := newJob("a@example.com")
	j.ID = "fixed-id"
	_, err := s.Enqueue(context.Background(), j)
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	assert.NotErrorIs(t, err, queue.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueBulk_DuplicateIDRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("COPY")
	prep.ExpectExec().WillReturnResult(driver.RowsAffected(1))
	prep.ExpectExec().WillReturnError(&pq.Error{Code: "23505"}) // flush
	mock.ExpectRollback()

	j := newJob("a@example.com")
	j.ID = "fixed-id"
	_, err := s.EnqueueBulk(context.Background(), []*domain.EmailJob{j})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueBulk_DuplicateIDWithinBatch(t *testing.T) {
	s, mock := newMock(t)
	a, b := newJob("a@example.com"), newJob("b@example.com")
	a.ID, b.ID = "twin", "twin"

	_, err := s.EnqueueBulk(context.Background(), []*domain.EmailJob{a, b})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	assert.NoError(t, mock.ExpectationsWereMet(), "rejected before any SQL")
}

func TestEnqueueBulk_CopyInOneTransaction(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("COPY")
	prep.ExpectExec().WillReturnResult(driver.RowsAffected(1))
	prep.ExpectExec().WillReturnResult(driver.RowsAffected(1))
	prep.ExpectExec().WillReturnResult(driver.RowsAffected(0)) // flush
	mock.ExpectCommit()

	ids, err := s.EnqueueBulk(context.Background(), []*domain.EmailJob{
		newJob("a@example.com"), newJob("b@example.com"),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueBulk_RowErrorRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare("COPY")
	prep.ExpectExec().WillReturnResult(driver.RowsAffected(1))
	prep.ExpectExec().WillReturnError(errors.New("invalid byte sequence"))
	mock.ExpectRollback()

	_, err := s.EnqueueBulk(context.Background(), []*domain.EmailJob{
		newJob("a@example.com"), newJob("b@example.com"),
	})
	assert.ErrorIs(t, err, queue.ErrStoreUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueBulk_InvalidJobTouchesNothing(t *testing.T) {
	s, mock := newMock(t)
	_, err := s.EnqueueBulk(context.Background(), []*domain.EmailJob{newJob("")})
	assert.ErrorIs(t, err, queue.ErrInvalidJob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueNext_Claims(t *testing.T) {
	s, mock := newMock(t)
	lease := fixedNow.Add(queue.DefaultLeaseTTL)
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("w1", fixedNow, lease).
		WillReturnRows(jobRow("job-1", "active", 0, lease, nil))

	j, err := s.DequeueNext(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, "job-1", j.ID)
	assert.Equal(t, domain.JobActive, j.State)
	require.NotNil(t, j.LeaseExpiresAt)
	assert.Equal(t, lease, *j.LeaseExpiresAt)
	assert.Nil(t, j.FinishedAt)
}

func TestDequeueNext_Empty(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(sqlmock.NewRows(columns))

	j, err := s.DequeueNext(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func TestMarkCompleted(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("SET state = 'completed'").
		WithArgs("job-1", "w1", "msg-1", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkCompleted(context.Background(), "job-1", "w1", &domain.Receipt{MessageID: "msg-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompleted_LeaseLost(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("SET state = 'completed'").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkCompleted(context.Background(), "job-1", "w1", &domain.Receipt{MessageID: "m"})
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestMarkFailed(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("SET state = 'failed'").
		WithArgs("job-1", "w1", "rejected", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkFailed(context.Background(), "job-1", "w1", errors.New("rejected")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRetry_ReturnsUpdatedJob(t *testing.T) {
	s, mock := newMock(t)
	delay := 5 * time.Second
	mock.ExpectQuery("attempt_count \\+ 1 >= max_attempts").
		WithArgs("job-1", "w1", "timeout", fixedNow, fixedNow.Add(delay), true).
		WillReturnRows(jobRow("job-1", "delayed", 1, nil, nil))

	j, err := s.MarkRetry(context.Background(), "job-1", "w1", errors.New("timeout"), delay)
	require.NoError(t, err)
	assert.Equal(t, domain.JobDelayed, j.State)
	assert.Equal(t, 1, j.AttemptCount)
	assert.Nil(t, j.LeaseExpiresAt)
}

func TestMarkRetry_LeaseLost(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("attempt_count \\+ 1 >= max_attempts").WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.MarkRetry(context.Background(), "job-1", "w1", errors.New("x"), 0)
	assert.ErrorIs(t, err, queue.ErrLeaseLost)
}

func TestReclaimExpired(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows(columns).
		AddRow("job-1", int64(1), "a@example.com", "s", "", "t", "", int64(0), "waiting",
			int64(1), int64(3), queue.LeaseExpiredError, "", "", fixedNow, nil, fixedNow, fixedNow, nil).
		AddRow("job-2", int64(2), "b@example.com", "s", "", "t", "", int64(0), "failed",
			int64(3), int64(3), queue.LeaseExpiredError, "", "", fixedNow, nil, fixedNow, fixedNow, fixedNow)
	mock.ExpectQuery("lease_expires_at <= \\$1").
		WithArgs(fixedNow, queue.LeaseExpiredError).
		WillReturnRows(rows)

	jobs, err := s.ReclaimExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobWaiting, jobs[0].State)
	assert.Equal(t, domain.JobFailed, jobs[1].State)
	require.NotNil(t, jobs[1].FinishedAt)
}

func TestCounts(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("GROUP BY state").WillReturnRows(
		sqlmock.NewRows([]string{"state", "count"}).
			AddRow("waiting", int64(10)).
			AddRow("active", int64(2)).
			AddRow("failed", int64(1)),
	)

	st, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.QueueStats{Waiting: 10, Active: 2, Failed: 1}, st)
}

func TestClear_SkipsActive(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("DELETE FROM email_jobs WHERE state <> 'active'").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestEvictFinished(t *testing.T) {
	s, mock := newMock(t)
	cutoff := fixedNow.Add(-24 * time.Hour)
	mock.ExpectExec("DELETE FROM email_jobs").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 9))

	n, err := s.EvictFinished(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM email_jobs WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestExtendLease(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("SET lease_expires_at").
		WithArgs("job-1", "w1", fixedNow.Add(queue.DefaultLeaseTTL), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.ExtendLease(context.Background(), "job-1", "w1"))
}
