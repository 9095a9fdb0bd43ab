package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

var ErrHubClosed = errors.New("subscription hub closed")

// SubscriptionHub turns change envelopes into live query results. It is an
// EventPublisher: whatever feeds the outbox into it (in-process dispatcher or
// a Redis channel) is the single source of change notifications.
type SubscriptionHub struct {
	data   *DataAccess
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewSubscriptionHub(data *DataAccess, logger *zap.Logger) *SubscriptionHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionHub{data: data, logger: logger, subs: make(map[uint64]*Subscription)}
}

type subscriptionKind int

const (
	watchCollection subscriptionKind = iota
	watchItem
)

// Subscription is a live query handle. It stops delivering when Close is
// called or when the context it was created with is done, whichever happens
// first. A callback already running when Close is called finishes; no new one
// starts afterwards.
type Subscription struct {
	hub        *SubscriptionHub
	id         uint64
	kind       subscriptionKind
	collection string
	ownerID    string
	recordID   string

	dirty     chan struct{}
	done      chan struct{}
	exited    chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// ListenToUserCollection delivers the owner's records in collection, newest
// first: once right away and again after every change to that set.
func (h *SubscriptionHub) ListenToUserCollection(ctx context.Context, collection, ownerID string, onChange func([]domain.Record)) (*Subscription, error) {
	// Register before the first read so a change racing with it still marks
	// the subscription dirty.
	sub, err := h.register(watchCollection, collection, ownerID, "")
	if err != nil {
		return nil, err
	}
	fetch := func() ([]domain.Record, error) { return h.data.GetAll(ctx, collection, ownerID) }
	initial, err := fetch()
	if err != nil {
		sub.Close()
		close(sub.exited)
		return nil, err
	}

	go runSubscription(ctx, sub, initial, fetch, onChange)
	return sub, nil
}

// ListenToItem delivers one record, or nil while it does not exist.
func (h *SubscriptionHub) ListenToItem(ctx context.Context, collection, id string, onChange func(*domain.Record)) (*Subscription, error) {
	fetch := func() (*domain.Record, error) {
		rec, found, err := h.data.GetByID(ctx, collection, id)
		if err != nil || !found {
			return nil, err
		}
		return &rec, nil
	}
	sub, err := h.register(watchItem, collection, "", id)
	if err != nil {
		return nil, err
	}
	initial, err := fetch()
	if err != nil {
		sub.Close()
		close(sub.exited)
		return nil, err
	}

	go runSubscription(ctx, sub, initial, fetch, onChange)
	return sub, nil
}

// Publish marks every subscription affected by event for a re-query.
func (h *SubscriptionHub) Publish(_ context.Context, _ string, event domain.EventEnvelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if sub.matches(event) {
			sub.markDirty()
		}
	}
	return nil
}

// Active reports the number of open subscriptions.
func (h *SubscriptionHub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every open subscription and refuses new ones.
func (h *SubscriptionHub) Close() error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

func (h *SubscriptionHub) register(kind subscriptionKind, collection, ownerID, recordID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		hub:        h,
		id:         h.nextID,
		kind:       kind,
		collection: collection,
		ownerID:    ownerID,
		recordID:   recordID,
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	h.subs[sub.id] = sub
	return sub, nil
}

func (h *SubscriptionHub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Close stops the subscription. Calling it more than once is harmless.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.hub.remove(s.id)
		close(s.done)
	})
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.exited
}

func (s *Subscription) matches(event domain.EventEnvelope) bool {
	if event.Collection != s.collection {
		return false
	}
	switch s.kind {
	case watchCollection:
		return event.OwnerID == s.ownerID
	case watchItem:
		return event.RecordID == s.recordID
	}
	return false
}

// markDirty never blocks: a pending signal already covers this change.
func (s *Subscription) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func runSubscription[T any](ctx context.Context, sub *Subscription, initial T, fetch func() (T, error), onChange func(T)) {
	defer close(sub.exited)
	defer sub.Close()

	deliver := func(v T) {
		if sub.closed.Load() {
			return
		}
		onChange(v)
	}

	deliver(initial)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.dirty:
			v, err := fetch()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				sub.hub.logger.Warn("subscription refresh failed",
					zap.String("collection", sub.collection),
					zap.Uint64("subscription", sub.id),
					zap.Error(err),
				)
				continue
			}
			deliver(v)
		}
	}
}
