package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ignite/mailqueue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_FillsStoreOwnedFields(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := NewJob(domain.EmailPayload{To: "a@example.com", Subject: "hi"}, 2)
	j.AttemptCount = 7
	j.State = domain.JobFailed

	require.NoError(t, Prepare(j, DefaultOptions(), now))

	assert.NotEmpty(t, j.ID)
	assert.Equal(t, domain.JobWaiting, j.State)
	assert.Equal(t, 0, j.AttemptCount)
	assert.Equal(t, DefaultMaxAttempts, j.MaxAttempts)
	assert.Equal(t, now, j.CreatedAt)
	assert.Equal(t, now, j.RunAt)
	assert.Equal(t, 2, j.Priority)
}

func TestPrepare_KeepsExplicitMaxAttempts(t *testing.T) {
	j := NewJob(domain.EmailPayload{To: "a@example.com"}, 0)
	j.MaxAttempts = 7
	require.NoError(t, Prepare(j, DefaultOptions(), time.Now()))
	assert.Equal(t, 7, j.MaxAttempts)
}

func TestPrepare_RejectsMissingRecipient(t *testing.T) {
	err := Prepare(NewJob(domain.EmailPayload{Subject: "x"}, 0), DefaultOptions(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidJob)

	err = Prepare(nil, DefaultOptions(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestPrepareAll_StopsOnFirstInvalid(t *testing.T) {
	jobs := []*domain.EmailJob{
		NewJob(domain.EmailPayload{To: "a@example.com"}, 0),
		NewJob(domain.EmailPayload{}, 0),
	}
	_, err := PrepareAll(jobs, DefaultOptions(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestPrepare_PriorityBounds(t *testing.T) {
	for _, p := range []int{MinPriority, 0, MaxPriority} {
		assert.NoError(t, Prepare(NewJob(domain.EmailPayload{To: "a@example.com"}, p), DefaultOptions(), time.Now()), "priority %d", p)
	}
	for _, p := range []int{MinPriority - 1, MaxPriority + 1, 5000} {
		err := Prepare(NewJob(domain.EmailPayload{To: "a@example.com"}, p), DefaultOptions(), time.Now())
		assert.ErrorIs(t, err, ErrInvalidJob, "priority %d", p)
	}
}

func TestPrepareAll_RejectsRepeatedID(t *testing.T) {
	a := NewJob(domain.EmailPayload{To: "a@example.com"}, 0)
	b := NewJob(domain.EmailPayload{To: "b@example.com"}, 0)
	a.ID, b.ID = "same", "same"

	ids, err := PrepareAll([]*domain.EmailJob{a, b}, DefaultOptions(), time.Now())
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Nil(t, ids)
}

func TestStoreError_MatchesSentinelAndCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Unavailable("enqueue", cause)

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "enqueue")
	assert.Nil(t, Unavailable("noop", nil))
}

func TestLess(t *testing.T) {
	a := &domain.EmailJob{Priority: 0, Seq: 5}
	b := &domain.EmailJob{Priority: 1, Seq: 1}
	c := &domain.EmailJob{Priority: 0, Seq: 6}

	assert.True(t, Less(a, b), "lower priority value first")
	assert.True(t, Less(a, c), "fifo within equal priority")
	assert.False(t, Less(c, a))
}

func TestOptions_Normalize(t *testing.T) {
	o := Options{}.Normalize()
	assert.Equal(t, DefaultLeaseTTL, o.LeaseTTL)
	assert.Equal(t, DefaultMaxAttempts, o.DefaultMaxAttempts)
}
