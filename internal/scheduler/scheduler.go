package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// Scheduler runs periodic maintenance. Today that is pruning delivered
// outbox rows older than the retention window.
type Scheduler struct {
	cron      *cron.Cron
	outbox    ports.OutboxRepository
	schedule  string
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(outbox ports.OutboxRepository, schedule string, retention time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(),
		outbox:    outbox,
		schedule:  schedule,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the jobs and starts the cron loop. A zero retention or an
// empty schedule disables pruning.
func (s *Scheduler) Start() error {
	if s.schedule != "" && s.retention > 0 {
		if _, err := s.cron.AddFunc(s.schedule, s.purgeOutbox); err != nil {
			return fmt.Errorf("schedule outbox purge: %w", err)
		}
		s.logger.Info("outbox purge scheduled", zap.String("schedule", s.schedule), zap.Duration("retention", s.retention))
	}
	s.cron.Start()
	return nil
}

// Close stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Close() error {
	<-s.cron.Stop().Done()
	return nil
}

// PurgeOutbox deletes dispatched rows older than the retention window.
func (s *Scheduler) PurgeOutbox(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention).Format(time.RFC3339Nano)
	return s.outbox.PurgeDispatched(ctx, cutoff)
}

func (s *Scheduler) purgeOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := s.PurgeOutbox(ctx)
	if err != nil {
		s.logger.Error("outbox purge failed", zap.Error(err))
		return
	}
	s.logger.Info("outbox purged", zap.Int64("rows", n))
}
