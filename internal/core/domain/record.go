package domain

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidKey        = errors.New("invalid key")
	ErrInvalidCollection = errors.New("invalid collection")
	ErrNotFound          = errors.New("not found")
)

const (
	FieldID        = "id"
	FieldUserID    = "userId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

const TimeFormat = "2006-01-02T15:04:05.999999999Z07:00"

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

// Fields is the schemaless body of a record. Values are whatever JSON decodes
// to: strings, float64 or json.Number, bools, nil.
type Fields map[string]any

// Record is one document in a collection. Data never carries the base fields;
// they live on the struct and are merged back in by MarshalJSON.
type Record struct {
	Collection string
	ID         string
	OwnerID    string
	Data       Fields
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func ValidateKey(key string) error {
	if key == "" || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

func ValidateCollection(collection string) error {
	if collection == "" || !keyPattern.MatchString(collection) {
		return ErrInvalidCollection
	}
	return nil
}

// Flatten returns the record the way clients see it: data fields plus id,
// userId and the two timestamps. Zero base fields are omitted so that the
// partial result of an update stays partial.
func (r Record) Flatten() map[string]any {
	out := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	if r.ID != "" {
		out[FieldID] = r.ID
	}
	if r.OwnerID != "" {
		out[FieldUserID] = r.OwnerID
	}
	if !r.CreatedAt.IsZero() {
		out[FieldCreatedAt] = r.CreatedAt.UTC().Format(TimeFormat)
	}
	if !r.UpdatedAt.IsZero() {
		out[FieldUpdatedAt] = r.UpdatedAt.UTC().Format(TimeFormat)
	}
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Flatten())
}

// Merge applies the fields of other on top of r. Base fields of other win
// when they are set.
func (r Record) Merge(other Record) Record {
	merged := r
	merged.Data = r.Data.Clone()
	if merged.Data == nil {
		merged.Data = Fields{}
	}
	for k, v := range other.Data {
		merged.Data[k] = v
	}
	if other.OwnerID != "" {
		merged.OwnerID = other.OwnerID
	}
	if !other.CreatedAt.IsZero() {
		merged.CreatedAt = other.CreatedAt
	}
	if !other.UpdatedAt.IsZero() {
		merged.UpdatedAt = other.UpdatedAt
	}
	return merged
}

// Clone copies the top level of f. Records are flat, so this is a full copy
// for every value the store produces.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// WithoutBaseFields drops id, userId, createdAt and updatedAt so a client
// payload cannot overwrite them.
func (f Fields) WithoutBaseFields() Fields {
	out := f.Clone()
	if out == nil {
		return Fields{}
	}
	delete(out, FieldID)
	delete(out, FieldUserID)
	delete(out, FieldCreatedAt)
	delete(out, FieldUpdatedAt)
	return out
}

func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Number parses key as a float. Forms send numbers as strings, so both
// representations are accepted. ok is false when the value is missing or not
// numeric. NaN and infinities are not numbers here.
func (f Fields) Number(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return finite(v, nil)
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		return finite(v.Float64())
	case string:
		return finite(strconv.ParseFloat(strings.TrimSpace(v), 64))
	default:
		return 0, false
	}
}

func finite(n float64, err error) (float64, bool) {
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// SortNewestFirst orders records by createdAt descending. IDs are ULIDs, so
// equal timestamps fall back to the id, which is also creation ordered.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
