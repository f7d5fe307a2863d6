package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes every event as JSON on a pub/sub channel so
// dashboards and other services can follow the queue live.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	timeout time.Duration
	log     *logger.Component
}

func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
		log:     logger.For("events.redis"),
	}
}

func (p *RedisPublisher) Observe(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Error("marshal event", "kind", string(e.Kind), "error", err)
		return
	}
	// publish even when the emitter is shutting down
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		p.log.Warn("publish event", "channel", p.channel, "kind", string(e.Kind), "error", err)
	}
}
