package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

const DefaultRedisChannel = "rentdesk:changes"

// RedisPublisher forwards envelopes to a pub/sub channel so other rentdesk
// processes sharing the database can refresh their live subscriptions.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, _ string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisFeed reads envelopes from the channel and hands them to a local
// publisher, usually the subscription hub.
type RedisFeed struct {
	client  *redis.Client
	channel string
	target  ports.EventPublisher
	logger  *zap.Logger
}

func NewRedisFeed(client *redis.Client, channel string, target ports.EventPublisher, logger *zap.Logger) *RedisFeed {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, channel: channel, target: target, logger: logger}
}

// Run subscribes and forwards messages until ctx is done. It returns once the
// subscription is confirmed closed.
func (f *RedisFeed) Run(ctx context.Context) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.EventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn("drop malformed change message", zap.Error(err))
				continue
			}
			topic := domain.Topic(event.OwnerID, event.EventType)
			if err := f.target.Publish(ctx, topic, event); err != nil {
				f.logger.Warn("forward change message failed", zap.String("event_id", event.EventID), zap.Error(err))
			}
		}
	}
}

// Ping checks connectivity to the Redis server.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
