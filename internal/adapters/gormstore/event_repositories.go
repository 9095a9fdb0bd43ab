package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type AuditTrailRepository struct {
	db *gormdb.DB
}

func NewAuditTrailRepository(db *gormdb.DB) *AuditTrailRepository {
	return &AuditTrailRepository{db: db}
}

func (r *AuditTrailRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	var rows []auditEventModel
	err := r.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		query := tx.Model(&auditEventModel{}).Where("owner_id = ?", filter.OwnerID)
		if filter.Collection != "" {
			query = query.Where("collection = ?", filter.Collection)
		}
		if filter.RecordID != "" {
			query = query.Where("record_id = ?", filter.RecordID)
		}
		if filter.Action != "" {
			query = query.Where("action = ?", filter.Action)
		}
		if filter.OldestFirst {
			if filter.AfterID > 0 {
				query = query.Where("id > ?", filter.AfterID)
			}
			query = query.Order("id ASC")
		} else {
			if filter.BeforeID > 0 {
				query = query.Where("id < ?", filter.BeforeID)
			}
			query = query.Order("id DESC")
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	result := make([]domain.AuditTrailEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.AuditTrailEvent{
			ID:               row.ID,
			EventID:          row.EventID,
			OwnerID:          row.OwnerID,
			Collection:       row.Collection,
			RecordID:         row.RecordID,
			AggregateVersion: row.AggregateVersion,
			Action:           row.Action,
			Actor:            row.Actor,
			Source:           row.Source,
			RequestID:        row.RequestID,
			BeforeJSON:       rawOrNil(row.BeforeJSON),
			AfterJSON:        rawOrNil(row.AfterJSON),
			OccurredAt:       row.OccurredAt.UTC(),
		})
	}
	return result, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

type OutboxRepository struct {
	db  *gormdb.DB
	now func() time.Time
}

func NewOutboxRepository(db *gormdb.DB) *OutboxRepository {
	return &OutboxRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []outboxEventModel
	err := r.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("status = ? AND next_attempt_at <= ?", domain.OutboxPending, r.now()).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}

	result := make([]domain.OutboxEvent, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.OutboxEvent{
			ID:            row.ID,
			EventID:       row.EventID,
			OwnerID:       row.OwnerID,
			Topic:         row.Topic,
			PayloadJSON:   json.RawMessage(row.PayloadJSON),
			Status:        row.Status,
			Attempts:      row.Attempts,
			NextAttemptAt: row.NextAttemptAt,
			LastError:     row.LastError,
			CreatedAt:     row.CreatedAt,
			DispatchedAt:  row.DispatchedAt,
		})
	}
	return result, nil
}

func (r *OutboxRepository) MarkDispatched(ctx context.Context, id int64) error {
	now := r.now()
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": domain.OutboxDispatched, "dispatched_at": &now, "last_error": ""}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dispatched: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt string, errMsg string) error {
	parsed, err := time.Parse(time.RFC3339Nano, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("parse next attempt: %w", err)
	}
	err = r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"attempts": attempts, "next_attempt_at": parsed.UTC(), "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error {
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Model(&outboxEventModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": domain.OutboxDead, "attempts": attempts, "last_error": errMsg}).Error
	})
	if err != nil {
		return fmt.Errorf("mark outbox dead: %w", err)
	}
	return nil
}

// PurgeDispatched deletes delivered rows dispatched before olderThan
// (RFC3339). Pending and dead rows are kept.
func (r *OutboxRepository) PurgeDispatched(ctx context.Context, olderThan string) (int64, error) {
	cutoff, err := time.Parse(time.RFC3339Nano, olderThan)
	if err != nil {
		return 0, fmt.Errorf("parse purge cutoff: %w", err)
	}
	var affected int64
	err = r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		res := tx.Where("status = ? AND dispatched_at < ?", domain.OutboxDispatched, cutoff.UTC()).Delete(&outboxEventModel{})
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge outbox: %w", err)
	}
	return affected, nil
}
