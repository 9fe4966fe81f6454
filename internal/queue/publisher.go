package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher broadcasts pipeline events on <queue>:events for
// dashboards subscribed over pub/sub.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
	now     func() time.Time
}

// NewRedisPublisher publishes on queueName + ":events".
func NewRedisPublisher(client redis.Cmdable, queueName string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: queueName + ":events", now: time.Now}
}

// Publish sends event with payload.
func (p *RedisPublisher) Publish(ctx context.Context, event string, payload interface{}) error {
	msg, err := json.Marshal(map[string]interface{}{
		"event":     event,
		"payload":   payload,
		"timestamp": p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event, err)
	}
	if err := p.client.Publish(ctx, p.channel, string(msg)).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event, err)
	}
	return nil
}
