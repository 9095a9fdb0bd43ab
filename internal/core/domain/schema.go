package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidSchema = errors.New("invalid json schema")

// ErrSchemaViolation is returned when a record's data does not conform to the
// collection's JSON schema. The Errors field contains machine-readable details.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Errors, "; "))
}

// CollectionSchema holds the JSON Schema document an owner configured for one
// of their collections. Collections without one accept any payload.
type CollectionSchema struct {
	OwnerID    string
	Collection string
	Schema     json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
