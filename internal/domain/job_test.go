package domain

import "testing"

func TestJobState_IsTerminal(t *testing.T) {
	tests := []struct {
		state JobState
		want  bool
	}{
		{JobWaiting, false},
		{JobActive, false},
		{JobDelayed, false},
		{JobCompleted, true},
		{JobFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestJobState_IsValid(t *testing.T) {
	if JobState("paused").IsValid() {
		t.Error("unknown state should not be valid")
	}
	if !JobDelayed.IsValid() {
		t.Error("delayed should be valid")
	}
}

func TestBulkRequest_PayloadFor(t *testing.T) {
	req := BulkRequest{
		Recipients: []string{"a@example.com"},
		Subject:    "Hello",
		HTML:       "<p>hi</p>",
		Text:       "hi",
		From:       "news@example.com",
	}
	p := req.PayloadFor("b@example.com")
	if p.To != "b@example.com" || p.Subject != "Hello" || p.HTML != "<p>hi</p>" || p.Text != "hi" || p.From != "news@example.com" {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestEmailJob_AttemptsLeft(t *testing.T) {
	j := &EmailJob{MaxAttempts: 3, AttemptCount: 1}
	if got := j.AttemptsLeft(); got != 2 {
		t.Errorf("AttemptsLeft() = %d, want 2", got)
	}
	j.AttemptCount = 5
	if got := j.AttemptsLeft(); got != 0 {
		t.Errorf("AttemptsLeft() = %d, want 0", got)
	}
}

func TestQueueStats_Pending(t *testing.T) {
	s := QueueStats{Waiting: 4, Delayed: 2, Active: 7}
	if s.Pending() != 6 {
		t.Errorf("Pending() = %d, want 6", s.Pending())
	}
}
