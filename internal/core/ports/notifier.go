package ports

import (
	"context"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

// Notifier delivers transient user-visible messages.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}
