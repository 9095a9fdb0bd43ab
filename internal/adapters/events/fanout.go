package events

import (
	"context"
	"errors"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// Fanout publishes every event to each target in order. All targets are
// tried; the joined error makes the dispatcher retry the event, and targets
// that already accepted it see it again.
type Fanout []ports.EventPublisher

func (f Fanout) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
