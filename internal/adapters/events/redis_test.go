package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type syncPublisher struct {
	mu     sync.Mutex
	events []domain.EventEnvelope
	topics []string
}

func (p *syncPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *syncPublisher) received() []domain.EventEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EventEnvelope(nil), p.events...)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisFeedForwardsPublishedEnvelopes(t *testing.T) {
	mr, client := setupTestRedis(t)
	target := &syncPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	feed := NewRedisFeed(client, "", target, nil)
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(DefaultRedisChannel)[DefaultRedisChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	pub := NewRedisPublisher(client, "")
	event := domain.EventEnvelope{
		EventID:    "evt-1",
		EventType:  domain.EventRecordCreated,
		OwnerID:    "u1",
		Collection: domain.CollectionRents,
		RecordID:   "r1",
	}
	require.NoError(t, pub.Publish(context.Background(), domain.Topic("u1", domain.EventRecordCreated), event))

	require.Eventually(t, func() bool { return len(target.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := target.received()[0]
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "r1", got.RecordID)
	assert.Equal(t, domain.CollectionRents, got.Collection)

	target.mu.Lock()
	assert.Equal(t, "events.u1.record.created", target.topics[0])
	target.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}

func TestRedisPublisherFailsWhenServerIsDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, Ping(context.Background(), client))
	mr.Close()

	err := NewRedisPublisher(client, "custom").Publish(context.Background(), "t", domain.EventEnvelope{EventID: "e"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish")
}
