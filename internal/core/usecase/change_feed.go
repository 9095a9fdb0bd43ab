package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

const (
	defaultFeedInterval  = 2 * time.Second
	defaultFeedBatch     = 50
	feedMaxAttempts      = 5
	feedMaxRetryInterval = 5 * time.Minute
)

// ChangeFeed carries committed record changes from the outbox to the fan-out
// targets that keep live subscriptions current. A write only leaves an
// outbox row in its own transaction; nothing watching a collection hears
// about it until the feed delivers that row.
//
// Rows go out oldest first. A change rejected by any target is offered to all
// targets again after a growing delay and dead-lettered once it has used up
// its attempts. Targets must tolerate redelivery. A row whose envelope does
// not decode is dead-lettered at once.
type ChangeFeed struct {
	outbox   ports.OutboxRepository
	targets  ports.EventPublisher
	logger   *zap.Logger
	interval time.Duration
	batch    int
	now      func() time.Time

	wake chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   ChangeFeedStats
}

// ChangeFeedStats counts what the feed has done since it was created.
type ChangeFeedStats struct {
	Delivered    int64            `json:"delivered"`
	Retried      int64            `json:"retried"`
	DeadLettered int64            `json:"deadLettered"`
	ByCollection map[string]int64 `json:"byCollection"`
	// LastLagMillis is how long the most recently delivered change waited
	// between commit and reaching every target.
	LastLagMillis int64 `json:"lastLagMillis"`
}

func NewChangeFeed(outbox ports.OutboxRepository, targets ports.EventPublisher, logger *zap.Logger, interval time.Duration, batch int) *ChangeFeed {
	if interval <= 0 {
		interval = defaultFeedInterval
	}
	if batch <= 0 {
		batch = defaultFeedBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFeed{
		outbox:   outbox,
		targets:  targets,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      func() time.Time { return time.Now().UTC() },
		wake:     make(chan struct{}, 1),
		stats:    ChangeFeedStats{ByCollection: make(map[string]int64)},
	}
}

// Start delivers in the background until ctx ends or Close is called. A
// second Start is a no-op.
func (f *ChangeFeed) Start(parent context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	f.cancel = cancel
	f.wg.Add(1)
	go f.run(ctx)
}

func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	return nil
}

// Wake delivers pending changes now instead of at the next poll. DataAccess
// calls it after every committed write.
func (f *ChangeFeed) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Stats returns a copy of the delivery counters.
func (f *ChangeFeed) Stats() ChangeFeedStats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	out := f.stats
	out.ByCollection = make(map[string]int64, len(f.stats.ByCollection))
	for c, n := range f.stats.ByCollection {
		out.ByCollection[c] = n
	}
	return out
}

func (f *ChangeFeed) run(ctx context.Context) {
	defer f.wg.Done()
	poll := time.NewTicker(f.interval)
	defer poll.Stop()

	for {
		if err := f.deliverPending(ctx); err != nil && ctx.Err() == nil {
			f.logger.Error("change delivery stalled", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
		case <-f.wake:
		}
	}
}

// deliverPending offers one batch of due outbox rows to the targets. It only
// returns an error when the outbox itself cannot be read or updated.
func (f *ChangeFeed) deliverPending(ctx context.Context) error {
	rows, err := f.outbox.FetchPending(ctx, f.batch)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := f.deliver(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func (f *ChangeFeed) deliver(ctx context.Context, row domain.OutboxEvent) error {
	var change domain.EventEnvelope
	if err := json.Unmarshal(row.PayloadJSON, &change); err != nil {
		return f.deadLetter(ctx, row, row.Attempts+1, fmt.Sprintf("decode change: %v", err))
	}

	if err := f.targets.Publish(ctx, row.Topic, change); err != nil {
		attempts := row.Attempts + 1
		f.logger.Warn("change not delivered",
			zap.String("event_id", change.EventID),
			zap.String("collection", change.Collection),
			zap.String("record_id", change.RecordID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if attempts >= feedMaxAttempts {
			return f.deadLetter(ctx, row, attempts, err.Error())
		}
		retryAt := f.now().Add(retryDelay(attempts)).Format(time.RFC3339Nano)
		if err := f.outbox.MarkFailed(ctx, row.ID, attempts, retryAt, err.Error()); err != nil {
			return err
		}
		f.count(func(s *ChangeFeedStats) { s.Retried++ })
		return nil
	}

	if err := f.outbox.MarkDispatched(ctx, row.ID); err != nil {
		return err
	}
	f.count(func(s *ChangeFeedStats) {
		s.Delivered++
		s.ByCollection[change.Collection]++
		if !change.OccurredAt.IsZero() {
			s.LastLagMillis = f.now().Sub(change.OccurredAt).Milliseconds()
		}
	})
	return nil
}

func (f *ChangeFeed) deadLetter(ctx context.Context, row domain.OutboxEvent, attempts int, reason string) error {
	if err := f.outbox.MarkDead(ctx, row.ID, attempts, reason); err != nil {
		return err
	}
	f.count(func(s *ChangeFeedStats) { s.DeadLettered++ })
	f.logger.Error("change dead-lettered", zap.String("event_id", row.EventID), zap.Int("attempts", attempts), zap.String("error", reason))
	return nil
}

func (f *ChangeFeed) count(update func(*ChangeFeedStats)) {
	f.statsMu.Lock()
	update(&f.stats)
	f.statsMu.Unlock()
}

// retryDelay grows quadratically with the attempt number.
func retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > feedMaxRetryInterval {
		return feedMaxRetryInterval
	}
	return d
}
