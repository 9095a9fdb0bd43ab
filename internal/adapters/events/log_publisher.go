package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.EventEnvelope) error {
	p.logger.Debug("outbox publish",
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("owner_id", event.OwnerID),
		zap.String("collection", event.Collection),
		zap.String("record_id", event.RecordID),
		zap.Int64("version", event.AggregateVersion),
	)
	return nil
}
