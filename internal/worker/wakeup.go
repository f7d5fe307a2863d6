package worker

import (
	"context"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisWakeup carries new-work notifications between processes: the API
// publishes after an enqueue and dispatcher processes listening on the same
// channel wake their idle workers. Lost notifications only cost one poll
// interval of latency.
type RedisWakeup struct {
	client  redis.UniversalClient
	channel string
	log     *logger.Component
}

func NewRedisWakeup(client redis.UniversalClient, channel string) *RedisWakeup {
	return &RedisWakeup{
		client:  client,
		channel: channel,
		log:     logger.For("wakeup"),
	}
}

// Notify publishes a wakeup. Errors are logged, never returned.
func (w *RedisWakeup) Notify() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.client.Publish(ctx, w.channel, "1").Err(); err != nil {
		w.log.Warn("publish wakeup", "channel", w.channel, "error", err)
	}
}

// Listen forwards wakeups to n until ctx is cancelled.
func (w *RedisWakeup) Listen(ctx context.Context, n Notifier) error {
	sub := w.client.Subscribe(ctx, w.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	w.log.Info("listening for wakeups", "channel", w.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			n.Notify()
		}
	}
}

// Notifiers fans one notification out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify() {
	for _, n := range ns {
		if n != nil {
			n.Notify()
		}
	}
}
