package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/rentdesk/internal/adapters/gormstore/gormdb"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type SchemaRepository struct {
	db *gormdb.DB
}

func NewSchemaRepository(db *gormdb.DB) *SchemaRepository {
	return &SchemaRepository{db: db}
}

func (r *SchemaRepository) Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error) {
	now := time.Now().UTC()
	model := collectionSchemaModel{
		OwnerID:    schema.OwnerID,
		Collection: schema.Collection,
		SchemaJSON: string(schema.Schema),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var out domain.CollectionSchema
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "collection"}},
			DoUpdates: clause.AssignmentColumns([]string{"schema_json", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert schema: %w", err)
		}

		var saved collectionSchemaModel
		if err := tx.Where("owner_id = ? AND collection = ?", schema.OwnerID, schema.Collection).First(&saved).Error; err != nil {
			return fmt.Errorf("load upserted schema: %w", err)
		}
		out = toSchemaDomain(saved)
		return nil
	})
	if err != nil {
		return domain.CollectionSchema{}, err
	}
	return out, nil
}

func (r *SchemaRepository) Get(ctx context.Context, ownerID, collection string) (domain.CollectionSchema, error) {
	var model collectionSchemaModel
	err := r.db.ReadTX(ctx, func(tx *gormdb.Tx) error {
		return tx.Where("owner_id = ? AND collection = ?", ownerID, collection).First(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CollectionSchema{}, domain.ErrNotFound
		}
		return domain.CollectionSchema{}, fmt.Errorf("get schema: %w", err)
	}
	return toSchemaDomain(model), nil
}

func (r *SchemaRepository) Delete(ctx context.Context, ownerID, collection string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormdb.Tx) error {
		res := tx.Where("owner_id = ? AND collection = ?", ownerID, collection).Delete(&collectionSchemaModel{})
		if res.Error != nil {
			return fmt.Errorf("delete schema: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
