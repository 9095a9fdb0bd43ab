package ports

import (
	"context"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

// RecordStore is the document store behind the data access layer. Every
// mutation writes the record, an audit row and an outbox envelope atomically.
type RecordStore interface {
	InsertWithEvents(ctx context.Context, rec domain.Record, meta domain.MutationMetadata) (domain.Record, error)
	PatchWithEvents(ctx context.Context, collection, id string, patch domain.Fields, meta domain.MutationMetadata) (domain.Record, error)
	DeleteWithEvents(ctx context.Context, collection, id string, meta domain.MutationMetadata) (bool, error)
	Get(ctx context.Context, collection, id string) (domain.Record, error)
	ListByOwner(ctx context.Context, collection, ownerID string) ([]domain.Record, error)
}

type AuditTrailRepository interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
	PurgeDispatched(ctx context.Context, olderThan string) (int64, error)
}
