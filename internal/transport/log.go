package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailqueue/internal/domain"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// LogSender accepts every message and only logs it. Used in development and
// as the default driver when nothing else is configured.
type LogSender struct {
	log *logger.Component
}

func NewLogSender() *LogSender {
	return &LogSender{log: logger.For("transport.log")}
}

func (s *LogSender) Send(ctx context.Context, msg *Message) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg == nil || msg.To == "" {
		return nil, Permanentf("transport: message has no recipient")
	}
	id := fmt.Sprintf("%s@log", uuid.New().String())
	s.log.Info("email accepted", "to", msg.To, "subject", msg.Subject, "job_id", msg.JobID, "message_id", id)
	return &domain.Receipt{
		MessageID: id,
		Transport: "log",
		Accepted:  []string{msg.To},
		SentAt:    time.Now(),
	}, nil
}
