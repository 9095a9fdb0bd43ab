package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type AccountRepository interface {
	Create(ctx context.Context, account domain.Account) error
	FindByEmail(ctx context.Context, email string) (domain.Account, error)
	FindByUID(ctx context.Context, uid string) (domain.Account, error)
	TouchLastLogin(ctx context.Context, uid string, at time.Time) error
}
