package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/mailqueue/internal/domain"
)

// Sender delivers one message. Implementations must honor ctx for
// cancellation and deadlines.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*domain.Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *Message) (*domain.Receipt, error)

func (f SenderFunc) Send(ctx context.Context, msg *Message) (*domain.Receipt, error) {
	return f(ctx, msg)
}

// Message is the wire-independent form of one email.
type Message struct {
	JobID   string
	To      string
	From    string
	Subject string
	HTML    string
	Text    string
}

// NewMessage builds the message for a job. defaultFrom applies when the
// payload has no sender of its own.
func NewMessage(job *domain.EmailJob, defaultFrom string) *Message {
	from := job.Payload.From
	if from == "" {
		from = defaultFrom
	}
	return &Message{
		JobID:   job.ID,
		To:      job.Payload.To,
		From:    from,
		Subject: job.Payload.Subject,
		HTML:    job.Payload.HTML,
		Text:    job.Payload.Text,
	}
}

// ErrNotConfigured is returned by drivers missing credentials or a host.
var ErrNotConfigured = errors.New("transport: not configured")

// ErrMissingFrom is returned when neither the payload nor the transport
// supplies a sender address.
var ErrMissingFrom = errors.New("transport: no from address")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final: the provider rejected the message and a
// retry would be rejected the same way.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Permanentf is Permanent(fmt.Errorf(format, args...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err, or anything it wraps, was marked
// Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func validate(msg *Message) error {
	if msg == nil || msg.To == "" {
		return Permanentf("transport: message has no recipient")
	}
	if msg.From == "" {
		return Permanent(ErrMissingFrom)
	}
	return nil
}
