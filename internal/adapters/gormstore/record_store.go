package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

// RecordStore keeps every collection in one records table. Each mutation also
// writes an audit row and an outbox row inside the same write transaction.
type RecordStore struct {
	db *gormdb.DB
}

func NewRecordStore(db *gormdb.DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) InsertWithEvents(ctx context.Context, rec domain.Record, meta domain.MutationMetadata) (domain.Record, error) {
	meta = meta.Normalize()
	var result domain.Record

	err := s.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		before, err := loadRecord(tx.DB, rec.Collection, rec.ID)
		if err != nil {
			return err
		}

		model, err := toRecordModel(rec)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "data_json", "created_at", "updated_at"}),
		}).Create(&model).Error; err != nil {
			return fmt.Errorf("insert record: %w", err)
		}

		action := domain.EventRecordCreated
		if before != nil {
			action = domain.EventRecordUpdated
		}
		if err := appendEvents(tx.DB, action, rec.OwnerID, rec.Collection, rec.ID, meta, before, &model); err != nil {
			return err
		}

		result, err = toRecordDomain(model)
		return err
	})
	if err != nil {
		return domain.Record{}, err
	}
	return result, nil
}

// PatchWithEvents merges patch into the stored data field by field. The merge
// happens in Go so it behaves the same on every dialect.
func (s *RecordStore) PatchWithEvents(ctx context.Context, collection, id string, patch domain.Fields, meta domain.MutationMetadata) (domain.Record, error) {
	meta = meta.Normalize()
	var result domain.Record

	err := s.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		before, err := loadRecord(tx.DB, collection, id)
		if err != nil {
			return err
		}
		if before == nil {
			return domain.ErrNotFound
		}

		current, err := toRecordDomain(*before)
		if err != nil {
			return err
		}
		merged := current.Merge(domain.Record{Data: patch, UpdatedAt: meta.OccurredAt})
		after, err := toRecordModel(merged)
		if err != nil {
			return err
		}
		if err := tx.Model(&recordModel{}).
			Where("collection = ? AND id = ?", collection, id).
			Updates(map[string]any{"data_json": after.DataJSON, "updated_at": after.UpdatedAt}).Error; err != nil {
			return fmt.Errorf("update record: %w", err)
		}

		if err := appendEvents(tx.DB, domain.EventRecordUpdated, current.OwnerID, collection, id, meta, before, &after); err != nil {
			return err
		}
		result = merged
		return nil
	})
	if err != nil {
		return domain.Record{}, err
	}
	return result, nil
}

func (s *RecordStore) DeleteWithEvents(ctx context.Context, collection, id string, meta domain.MutationMetadata) (bool, error) {
	meta = meta.Normalize()
	deleted := false

	err := s.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		before, err := loadRecord(tx.DB, collection, id)
		if err != nil {
			return err
		}
		if before == nil {
			return nil
		}
		if err := tx.Where("collection = ? AND id = ?", collection, id).Delete(&recordModel{}).Error; err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		deleted = true
		return appendEvents(tx.DB, domain.EventRecordDeleted, before.OwnerID, collection, id, meta, before, nil)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *RecordStore) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	var model recordModel
	err := s.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("collection = ? AND id = ?", collection, id).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, fmt.Errorf("get record: %w", err)
	}
	return toRecordDomain(model)
}

func (s *RecordStore) ListByOwner(ctx context.Context, collection, ownerID string) ([]domain.Record, error) {
	var models []recordModel
	err := s.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("collection = ? AND owner_id = ?", collection, ownerID).
			Order("created_at DESC").
			Order("id DESC").
			Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	result := make([]domain.Record, 0, len(models))
	for _, model := range models {
		rec, err := toRecordDomain(model)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func loadRecord(tx *gorm.DB, collection, id string) (*recordModel, error) {
	var existing recordModel
	err := tx.Where("collection = ? AND id = ?", collection, id).First(&existing).Error
	switch {
	case err == nil:
		return &existing, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("load existing record: %w", err)
	}
}

func nextAggregateVersion(tx *gorm.DB, collection, id string) (int64, error) {
	var maxVersion int64
	err := tx.Model(&auditEventModel{}).
		Where("collection = ? AND record_id = ?", collection, id).
		Select("COALESCE(MAX(aggregate_version), 0)").
		Scan(&maxVersion).Error
	if err != nil {
		return 0, fmt.Errorf("query aggregate version: %w", err)
	}
	return maxVersion + 1, nil
}

func appendEvents(tx *gorm.DB, action, ownerID, collection, id string, meta domain.MutationMetadata, before, after *recordModel) error {
	version, err := nextAggregateVersion(tx, collection, id)
	if err != nil {
		return err
	}

	var beforeJSON, afterJSON string
	payload := map[string]any{"record_id": id, "collection": collection}
	if before != nil {
		beforeJSON = before.DataJSON
	}
	if after != nil {
		afterJSON = after.DataJSON
		if rec, err := toRecordDomain(*after); err == nil {
			payload["data"] = rec
		}
	}

	envelope := domain.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        action,
		SchemaVersion:    domain.CurrentEventSchemaVersion,
		OwnerID:          ownerID,
		Collection:       collection,
		RecordID:         id,
		AggregateVersion: version,
		OccurredAt:       meta.OccurredAt.UTC(),
		Actor:            meta.Actor,
		Source:           meta.Source,
		Payload:          mustJSON(payload),
	}

	audit := auditEventModel{
		EventID:          envelope.EventID,
		SchemaVersion:    envelope.SchemaVersion,
		OwnerID:          ownerID,
		Collection:       collection,
		RecordID:         id,
		AggregateVersion: version,
		Action:           action,
		Actor:            meta.Actor,
		Source:           meta.Source,
		RequestID:        meta.RequestID,
		BeforeJSON:       beforeJSON,
		AfterJSON:        afterJSON,
		OccurredAt:       envelope.OccurredAt,
	}
	if err := tx.Create(&audit).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	outbox := outboxEventModel{
		EventID:       envelope.EventID,
		OwnerID:       ownerID,
		Topic:         domain.Topic(ownerID, action),
		PayloadJSON:   string(mustJSON(envelope)),
		Status:        domain.OutboxPending,
		NextAttemptAt: envelope.OccurredAt,
		CreatedAt:     envelope.OccurredAt,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
