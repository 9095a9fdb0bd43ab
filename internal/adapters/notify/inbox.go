package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

const DefaultInboxSize = 50

// Inbox keeps the latest notifications per owner until the client drains
// them, and mirrors each one to the log.
type Inbox struct {
	logger *zap.Logger
	size   int

	mu      sync.Mutex
	byOwner map[string][]domain.Notification
}

func NewInbox(size int, logger *zap.Logger) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inbox{logger: logger, size: size, byOwner: make(map[string][]domain.Notification)}
}

func (b *Inbox) Notify(_ context.Context, n domain.Notification) {
	fields := []zap.Field{zap.String("owner_id", n.OwnerID), zap.String("message", n.Message)}
	if n.Level == domain.NotifyError {
		b.logger.Warn("notification", fields...)
	} else {
		b.logger.Info("notification", fields...)
	}

	if n.OwnerID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.byOwner[n.OwnerID], n)
	if len(list) > b.size {
		list = append([]domain.Notification(nil), list[len(list)-b.size:]...)
	}
	b.byOwner[n.OwnerID] = list
}

// Drain returns the owner's pending notifications, oldest first, and clears
// them.
func (b *Inbox) Drain(ownerID string) []domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.byOwner[ownerID]
	delete(b.byOwner, ownerID)
	if list == nil {
		return []domain.Notification{}
	}
	return list
}

// Peek returns a copy of the pending notifications without clearing them.
func (b *Inbox) Peek(ownerID string) []domain.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Notification{}, b.byOwner[ownerID]...)
}

// Forget drops everything queued for the owner, e.g. on logout.
func (b *Inbox) Forget(ownerID string) {
	b.mu.Lock()
	delete(b.byOwner, ownerID)
	b.mu.Unlock()
}
