package ports

import (
	"context"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type CollectionSchemaRepository interface {
	Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error)
	Get(ctx context.Context, ownerID, collection string) (domain.CollectionSchema, error)
	Delete(ctx context.Context, ownerID, collection string) (bool, error)
}
