package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type outboxRepoStub struct {
	events []domain.OutboxEvent

	fetchLimits []int
	failed      []failedMark
	dead        []deadMark
	dispatched  []int64
}

type failedMark struct {
	id           int64
	attempts     int
	nextAttempt  string
	errorMessage string
}

type deadMark struct {
	id           int64
	attempts     int
	errorMessage string
}

func (r *outboxRepoStub) FetchPending(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.fetchLimits = append(r.fetchLimits, limit)
	out := make([]domain.OutboxEvent, 0, limit)
	now := time.Now().UTC()
	for _, e := range r.events {
		if e.Status != domain.OutboxPending {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepoStub) MarkDispatched(_ context.Context, id int64) error {
	r.dispatched = append(r.dispatched, id)
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = domain.OutboxDispatched
			now := time.Now().UTC()
			r.events[i].DispatchedAt = &now
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkFailed(_ context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	r.failed = append(r.failed, failedMark{id: id, attempts: attempts, nextAttempt: nextAttemptAt, errorMessage: errMsg})
	parsed, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return err
	}
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Attempts = attempts
			r.events[i].NextAttemptAt = parsed
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) MarkDead(_ context.Context, id int64, attempts int, errMsg string) error {
	r.dead = append(r.dead, deadMark{id: id, attempts: attempts, errorMessage: errMsg})
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Status = domain.OutboxDead
			r.events[i].Attempts = attempts
			r.events[i].LastError = errMsg
			return nil
		}
	}
	return errors.New("unknown outbox id")
}

func (r *outboxRepoStub) PurgeDispatched(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

type publisherStub struct {
	errByID   map[string]error
	published []domain.EventEnvelope
}

func (p *publisherStub) Publish(_ context.Context, _ string, event domain.EventEnvelope) error {
	p.published = append(p.published, event)
	if err, ok := p.errByID[event.EventID]; ok {
		return err
	}
	return nil
}

func TestChangeFeedDeliversPendingChange(t *testing.T) {
	env := domain.EventEnvelope{EventID: "e1", EventType: domain.EventRecordCreated, SchemaVersion: 1}
	payload, _ := json.Marshal(env)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{{
		ID:            1,
		EventID:       "e1",
		Status:        domain.OutboxPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		PayloadJSON:   payload,
		Topic:         domain.Topic("u1", domain.EventRecordCreated),
	}}}
	pub := &publisherStub{}
	f := NewChangeFeed(repo, pub, nil, time.Second, 10)

	if err := f.deliverPending(context.Background()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(repo.fetchLimits) != 1 || repo.fetchLimits[0] != 10 {
		t.Fatalf("expected fetch limit 10, got %v", repo.fetchLimits)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	if len(repo.dispatched) != 1 || repo.dispatched[0] != 1 {
		t.Fatalf("expected id=1 marked dispatched, got %v", repo.dispatched)
	}
	if len(repo.failed) != 0 || len(repo.dead) != 0 {
		t.Fatalf("expected no failures/dead marks, got failed=%d dead=%d", len(repo.failed), len(repo.dead))
	}
}

func TestChangeFeedRejectedChangeIsRetried(t *testing.T) {
	env := domain.EventEnvelope{EventID: "e2", EventType: domain.EventRecordUpdated, SchemaVersion: 1}
	payload, _ := json.Marshal(env)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{{
		ID:            2,
		EventID:       "e2",
		Status:        domain.OutboxPending,
		Attempts:      0,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		PayloadJSON:   payload,
		Topic:         domain.Topic("u1", domain.EventRecordUpdated),
	}}}
	pub := &publisherStub{errByID: map[string]error{"e2": errors.New("publisher down")}}
	f := NewChangeFeed(repo, pub, nil, time.Second, 10)

	if err := f.deliverPending(context.Background()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(repo.failed) != 1 {
		t.Fatalf("expected one failed mark, got %d", len(repo.failed))
	}
	if repo.failed[0].attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", repo.failed[0].attempts)
	}
	if repo.failed[0].errorMessage != "publisher down" {
		t.Fatalf("unexpected error message: %q", repo.failed[0].errorMessage)
	}
	if len(repo.dispatched) != 0 {
		t.Fatalf("expected no dispatched marks, got %v", repo.dispatched)
	}
	if len(repo.dead) != 0 {
		t.Fatalf("expected no dead marks, got %v", repo.dead)
	}
}

func TestChangeFeedDeadLettersAfterLastAttempt(t *testing.T) {
	env := domain.EventEnvelope{EventID: "e3", EventType: domain.EventRecordUpdated, SchemaVersion: 1}
	payload, _ := json.Marshal(env)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{{
		ID:            3,
		EventID:       "e3",
		Status:        domain.OutboxPending,
		Attempts:      4,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		PayloadJSON:   payload,
		Topic:         domain.Topic("u1", domain.EventRecordUpdated),
	}}}
	pub := &publisherStub{errByID: map[string]error{"e3": errors.New("still failing")}}
	f := NewChangeFeed(repo, pub, nil, time.Second, 10)

	if err := f.deliverPending(context.Background()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(repo.dead) != 1 {
		t.Fatalf("expected one dead mark, got %d", len(repo.dead))
	}
	if repo.dead[0].attempts != 5 {
		t.Fatalf("expected attempts=5, got %d", repo.dead[0].attempts)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no failed marks when dead-lettered, got %d", len(repo.failed))
	}
}

func TestChangeFeedResumesAfterRestart(t *testing.T) {
	env1 := domain.EventEnvelope{EventID: "e4", EventType: domain.EventRecordCreated, SchemaVersion: 1}
	env2 := domain.EventEnvelope{EventID: "e5", EventType: domain.EventRecordUpdated, SchemaVersion: 1}
	payload1, _ := json.Marshal(env1)
	payload2, _ := json.Marshal(env2)
	repo := &outboxRepoStub{events: []domain.OutboxEvent{
		{ID: 4, EventID: "e4", Status: domain.OutboxPending, NextAttemptAt: time.Now().UTC().Add(-time.Second), PayloadJSON: payload1, Topic: domain.Topic("u1", domain.EventRecordCreated)},
		{ID: 5, EventID: "e5", Status: domain.OutboxPending, NextAttemptAt: time.Now().UTC().Add(-time.Second), PayloadJSON: payload2, Topic: domain.Topic("u1", domain.EventRecordUpdated)},
	}}

	pub := &publisherStub{errByID: map[string]error{"e4": errors.New("transient")}}
	f1 := NewChangeFeed(repo, pub, nil, time.Second, 10)
	if err := f1.deliverPending(context.Background()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if len(repo.dispatched) != 1 || repo.dispatched[0] != 5 {
		t.Fatalf("expected only id=5 dispatched after first run, got %v", repo.dispatched)
	}

	repo.events[0].NextAttemptAt = time.Now().UTC().Add(-time.Second)
	pub.errByID = map[string]error{}
	f2 := NewChangeFeed(repo, pub, nil, time.Second, 10)
	if err := f2.deliverPending(context.Background()); err != nil {
		t.Fatalf("second delivery: %v", err)
	}

	if len(repo.dispatched) != 2 {
		t.Fatalf("expected two dispatched marks after resume, got %v", repo.dispatched)
	}
	if repo.dispatched[1] != 4 {
		t.Fatalf("expected resumed dispatch of id=4, got %d", repo.dispatched[1])
	}
}

func TestChangeFeedWakeDeliversWithoutWaitingForPoll(t *testing.T) {
	repo := &lockedOutboxRepo{inner: &outboxRepoStub{}}
	pub := &signalPublisher{got: make(chan domain.EventEnvelope, 1)}
	f := NewChangeFeed(repo, pub, nil, time.Hour, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Close()

	env := domain.EventEnvelope{EventID: "e6", EventType: domain.EventRecordCreated, SchemaVersion: 1}
	payload, _ := json.Marshal(env)
	repo.add(domain.OutboxEvent{ID: 6, EventID: "e6", Status: domain.OutboxPending, NextAttemptAt: time.Now().UTC().Add(-time.Second), PayloadJSON: payload})
	f.Wake()

	select {
	case got := <-pub.got:
		if got.EventID != "e6" {
			t.Fatalf("unexpected event %q", got.EventID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected change delivered after Wake")
	}
}

type lockedOutboxRepo struct {
	mu    sync.Mutex
	inner *outboxRepoStub
}

func (r *lockedOutboxRepo) add(e domain.OutboxEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inner.events = append(r.inner.events, e)
}

func (r *lockedOutboxRepo) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner.FetchPending(ctx, limit)
}

func (r *lockedOutboxRepo) MarkDispatched(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner.MarkDispatched(ctx, id)
}

func (r *lockedOutboxRepo) MarkFailed(ctx context.Context, id int64, attempts int, next string, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner.MarkFailed(ctx, id, attempts, next, msg)
}

func (r *lockedOutboxRepo) MarkDead(ctx context.Context, id int64, attempts int, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inner.MarkDead(ctx, id, attempts, msg)
}

func (r *lockedOutboxRepo) PurgeDispatched(ctx context.Context, olderThan string) (int64, error) {
	return 0, nil
}

type signalPublisher struct {
	got chan domain.EventEnvelope
}

func (p *signalPublisher) Publish(_ context.Context, _ string, event domain.EventEnvelope) error {
	select {
	case p.got <- event:
	default:
	}
	return nil
}

func TestChangeFeedStatsCountDeliveries(t *testing.T) {
	committed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	row := func(id int64, eventID, collection string) domain.OutboxEvent {
		payload, _ := json.Marshal(domain.EventEnvelope{EventID: eventID, Collection: collection, OccurredAt: committed})
		return domain.OutboxEvent{ID: id, EventID: eventID, Status: domain.OutboxPending, NextAttemptAt: committed, PayloadJSON: payload}
	}
	repo := &outboxRepoStub{events: []domain.OutboxEvent{
		row(1, "e1", domain.CollectionRents),
		row(2, "e2", domain.CollectionRents),
		row(3, "e3", domain.CollectionDeposits),
	}}
	pub := &publisherStub{errByID: map[string]error{"e3": errors.New("webhook down")}}
	f := NewChangeFeed(repo, pub, nil, time.Second, 10)
	f.now = func() time.Time { return committed.Add(1500 * time.Millisecond) }

	if err := f.deliverPending(context.Background()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	stats := f.Stats()
	if stats.Delivered != 2 || stats.Retried != 1 || stats.DeadLettered != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ByCollection[domain.CollectionRents] != 2 || stats.ByCollection[domain.CollectionDeposits] != 0 {
		t.Fatalf("unexpected per-collection counts: %v", stats.ByCollection)
	}
	if stats.LastLagMillis != 1500 {
		t.Fatalf("expected lag 1500ms, got %d", stats.LastLagMillis)
	}

	stats.ByCollection[domain.CollectionRents] = 99
	if f.Stats().ByCollection[domain.CollectionRents] != 2 {
		t.Fatal("expected Stats to return a copy")
	}
}

func TestChangeFeedDeadLettersUndecodableChange(t *testing.T) {
	repo := &outboxRepoStub{events: []domain.OutboxEvent{{
		ID:            7,
		EventID:       "e7",
		Status:        domain.OutboxPending,
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		PayloadJSON:   json.RawMessage(`{not json`),
	}}}
	pub := &publisherStub{}
	f := NewChangeFeed(repo, pub, nil, time.Second, 10)

	if err := f.deliverPending(context.Background()); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("expected nothing published, got %d", len(pub.published))
	}
	if len(repo.dead) != 1 || repo.dead[0].id != 7 || repo.dead[0].attempts != 1 {
		t.Fatalf("expected id=7 dead-lettered on first attempt, got %+v", repo.dead)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no retry for undecodable change, got %+v", repo.failed)
	}
	if f.Stats().DeadLettered != 1 {
		t.Fatalf("unexpected stats: %+v", f.Stats())
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	if got := retryDelay(1); got != time.Second {
		t.Fatalf("first retry delay = %s", got)
	}
	if got := retryDelay(3); got != 9*time.Second {
		t.Fatalf("third retry delay = %s", got)
	}
	if got := retryDelay(100); got != feedMaxRetryInterval {
		t.Fatalf("expected cap, got %s", got)
	}
}
