package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

const (
	EventRecordCreated = "record.created"
	EventRecordUpdated = "record.updated"
	EventRecordDeleted = "record.deleted"
)

type MutationMetadata struct {
	Actor      string
	Source     string
	RequestID  string
	OccurredAt time.Time
}

func (m MutationMetadata) Normalize() MutationMetadata {
	if m.Actor == "" {
		m.Actor = "api"
	}
	if m.Source == "" {
		m.Source = "api"
	}
	if m.OccurredAt.IsZero() {
		m.OccurredAt = time.Now().UTC()
	}
	return m
}

// EventEnvelope is the change notification written to the outbox for every
// record mutation. OwnerID is the userId of the affected record, which is what
// live subscriptions filter on.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	SchemaVersion    int             `json:"schema_version"`
	OwnerID          string          `json:"owner_id"`
	Collection       string          `json:"collection"`
	RecordID         string          `json:"record_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	OccurredAt       time.Time       `json:"occurred_at"`
	Actor            string          `json:"actor"`
	Source           string          `json:"source"`
	Payload          json.RawMessage `json:"payload"`
}

type AuditTrailEvent struct {
	ID               int64           `json:"id"`
	EventID          string          `json:"event_id"`
	OwnerID          string          `json:"owner_id"`
	Collection       string          `json:"collection"`
	RecordID         string          `json:"record_id"`
	AggregateVersion int64           `json:"aggregate_version"`
	Action           string          `json:"action"`
	Actor            string          `json:"actor"`
	Source           string          `json:"source"`
	RequestID        string          `json:"request_id"`
	BeforeJSON       json.RawMessage `json:"before_json,omitempty"`
	AfterJSON        json.RawMessage `json:"after_json,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

const (
	OutboxPending    = "pending"
	OutboxDispatched = "dispatched"
	OutboxDead       = "dead"
)

type OutboxEvent struct {
	ID            int64
	EventID       string
	OwnerID       string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}

// AuditFilter selects audit rows. By default rows come newest first; BeforeID
// pages backwards. With OldestFirst rows come in commit order starting after
// AfterID.
type AuditFilter struct {
	OwnerID     string
	Collection  string
	RecordID    string
	Action      string
	AfterID     int64
	BeforeID    int64
	OldestFirst bool
	Limit       int
}

// Topic is the routing key used by external publishers.
func Topic(ownerID, eventType string) string {
	return "events." + ownerID + "." + eventType
}
