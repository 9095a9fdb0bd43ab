package gormstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
)

type recordModel struct {
	Collection string    `gorm:"column:collection;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	OwnerID    string    `gorm:"column:owner_id;not null"`
	DataJSON   string    `gorm:"column:data_json;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (recordModel) TableName() string {
	return "records"
}

type auditEventModel struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement"`
	EventID          string    `gorm:"column:event_id;not null"`
	SchemaVersion    int       `gorm:"column:schema_version;not null"`
	OwnerID          string    `gorm:"column:owner_id;not null"`
	Collection       string    `gorm:"column:collection;not null"`
	RecordID         string    `gorm:"column:record_id;not null"`
	AggregateVersion int64     `gorm:"column:aggregate_version;not null"`
	Action           string    `gorm:"column:action;not null"`
	Actor            string    `gorm:"column:actor;not null"`
	Source           string    `gorm:"column:source;not null"`
	RequestID        string    `gorm:"column:request_id;not null"`
	BeforeJSON       string    `gorm:"column:before_json"`
	AfterJSON        string    `gorm:"column:after_json"`
	OccurredAt       time.Time `gorm:"column:occurred_at;not null"`
}

func (auditEventModel) TableName() string {
	return "audit_events"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID       string     `gorm:"column:event_id;not null"`
	OwnerID       string     `gorm:"column:owner_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

type collectionSchemaModel struct {
	OwnerID    string    `gorm:"column:owner_id;primaryKey"`
	Collection string    `gorm:"column:collection;primaryKey"`
	SchemaJSON string    `gorm:"column:schema_json;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (collectionSchemaModel) TableName() string {
	return "collection_schemas"
}

type userModel struct {
	UID          string    `gorm:"column:uid;primaryKey"`
	Email        string    `gorm:"column:email;not null"`
	DisplayName  string    `gorm:"column:display_name;not null"`
	PasswordHash []byte    `gorm:"column:password_hash;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	LastLogin    time.Time `gorm:"column:last_login;not null"`
}

func (userModel) TableName() string {
	return "users"
}

func toRecordModel(rec domain.Record) (recordModel, error) {
	data := rec.Data
	if data == nil {
		data = domain.Fields{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return recordModel{}, fmt.Errorf("encode record data: %w", err)
	}
	return recordModel{
		Collection: rec.Collection,
		ID:         rec.ID,
		OwnerID:    rec.OwnerID,
		DataJSON:   string(b),
		CreatedAt:  rec.CreatedAt.UTC(),
		UpdatedAt:  rec.UpdatedAt.UTC(),
	}, nil
}

// toRecordDomain keeps numbers as json.Number so amounts like "475.00" sent
// as numbers are not reformatted on the way back out.
func toRecordDomain(m recordModel) (domain.Record, error) {
	data := domain.Fields{}
	dec := json.NewDecoder(bytes.NewReader([]byte(m.DataJSON)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return domain.Record{}, fmt.Errorf("decode record %s/%s: %w", m.Collection, m.ID, err)
	}
	return domain.Record{
		Collection: m.Collection,
		ID:         m.ID,
		OwnerID:    m.OwnerID,
		Data:       data,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}, nil
}

func toSchemaDomain(model collectionSchemaModel) domain.CollectionSchema {
	return domain.CollectionSchema{
		OwnerID:    model.OwnerID,
		Collection: model.Collection,
		Schema:     json.RawMessage(model.SchemaJSON),
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
}

func toAccountDomain(m userModel) domain.Account {
	return domain.Account{
		User:         domain.User{UID: m.UID, Email: m.Email, DisplayName: m.DisplayName},
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		LastLogin:    m.LastLogin,
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
