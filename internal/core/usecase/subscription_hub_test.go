package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

func newHubFixture(t *testing.T) (*DataAccess, *SubscriptionHub) {
	t.Helper()
	store := newMemStore()
	data := NewDataAccess(store, nil)
	hub := NewSubscriptionHub(data, nil)
	store.publish = func(event domain.EventEnvelope) {
		_ = hub.Publish(context.Background(), domain.Topic(event.OwnerID, event.EventType), event)
	}
	t.Cleanup(func() { _ = hub.Close() })
	return data, hub
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestSubscriptionDeliversOnMutation(t *testing.T) {
	data, hub := newHubFixture(t)
	ctx := context.Background()

	got := make(chan []domain.Record, 8)
	sub, err := hub.ListenToUserCollection(ctx, domain.CollectionRents, "u1", func(recs []domain.Record) {
		got <- recs
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sub.Close()

	if initial := waitFor(t, got, "initial delivery"); len(initial) != 0 {
		t.Fatalf("expected empty initial list, got %d", len(initial))
	}

	rec, err := data.Add(ctx, domain.CollectionRents, domain.Fields{"name": "Asha"}, "u1", domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	after := waitFor(t, got, "delivery after add")
	if len(after) != 1 || after[0].ID != rec.ID {
		t.Fatalf("expected the new record, got %+v", after)
	}
}

func TestSubscriptionItemDeliversNilAfterDelete(t *testing.T) {
	data, hub := newHubFixture(t)
	ctx := context.Background()

	rec, err := data.Add(ctx, domain.CollectionDocuments, domain.Fields{"name": "Meera"}, "u1", domain.MutationMetadata{})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got := make(chan *domain.Record, 8)
	sub, err := hub.ListenToItem(ctx, domain.CollectionDocuments, rec.ID, func(r *domain.Record) { got <- r })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sub.Close()

	if first := waitFor(t, got, "initial item"); first == nil || first.ID != rec.ID {
		t.Fatalf("expected the record initially, got %+v", first)
	}
	if _, err := data.Delete(ctx, domain.CollectionDocuments, rec.ID, domain.MutationMetadata{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if after := waitFor(t, got, "item after delete"); after != nil {
		t.Fatalf("expected nil after delete, got %+v", after)
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	data, hub := newHubFixture(t)
	ctx := context.Background()

	got := make(chan []domain.Record, 8)
	sub, err := hub.ListenToUserCollection(ctx, domain.CollectionRents, "u1", func(recs []domain.Record) { got <- recs })
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	waitFor(t, got, "initial delivery")

	sub.Close()
	sub.Close()
	waitFor(t, sub.Done(), "subscription exit")

	if hub.Active() != 0 {
		t.Fatalf("expected no active subscriptions, got %d", hub.Active())
	}
	if _, err := data.Add(ctx, domain.CollectionRents, domain.Fields{}, "u1", domain.MutationMetadata{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	select {
	case recs := <-got:
		t.Fatalf("unexpected delivery after close: %+v", recs)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	_, hub := newHubFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := hub.ListenToUserCollection(ctx, domain.CollectionRents, "u1", func([]domain.Record) {})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cancel()
	waitFor(t, sub.Done(), "subscription exit after cancel")
	if hub.Active() != 0 {
		t.Fatalf("expected subscription to be released, got %d active", hub.Active())
	}
}

func TestSubscriptionInitialReadFailure(t *testing.T) {
	store := newMemStore()
	store.setReadErr(errors.New("offline"))
	hub := NewSubscriptionHub(NewDataAccess(store, nil), nil)

	_, err := hub.ListenToUserCollection(context.Background(), domain.CollectionRents, "u1", func([]domain.Record) {})
	var readErr *domain.ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected ReadError, got %v", err)
	}
	if hub.Active() != 0 {
		t.Fatalf("expected failed subscription to be released, got %d active", hub.Active())
	}
}

func TestSubscriptionHubClosedRejectsListeners(t *testing.T) {
	_, hub := newHubFixture(t)
	if err := hub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err := hub.ListenToUserCollection(context.Background(), domain.CollectionRents, "u1", func([]domain.Record) {})
	if !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected ErrHubClosed, got %v", err)
	}
}

func TestSubscriptionMatchesOwnerAndRecord(t *testing.T) {
	list := &Subscription{kind: watchCollection, collection: domain.CollectionRents, ownerID: "u1"}
	item := &Subscription{kind: watchItem, collection: domain.CollectionRents, recordID: "r1"}

	cases := []struct {
		name  string
		sub   *Subscription
		event domain.EventEnvelope
		want  bool
	}{
		{"list same owner", list, domain.EventEnvelope{Collection: domain.CollectionRents, OwnerID: "u1"}, true},
		{"list other owner", list, domain.EventEnvelope{Collection: domain.CollectionRents, OwnerID: "u2"}, false},
		{"list other collection", list, domain.EventEnvelope{Collection: domain.CollectionDeposits, OwnerID: "u1"}, false},
		{"item same id", item, domain.EventEnvelope{Collection: domain.CollectionRents, RecordID: "r1"}, true},
		{"item other id", item, domain.EventEnvelope{Collection: domain.CollectionRents, RecordID: "r2"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.sub.matches(tc.event); got != tc.want {
				t.Fatalf("matches=%v, want %v", got, tc.want)
			}
		})
	}
}
