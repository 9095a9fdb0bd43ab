package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// Validator checks a payload before it is written into one owner's
// collection. SchemaService satisfies it.
type Validator interface {
	Validate(ctx context.Context, ownerID, collection string, data domain.Fields) error
}

// DataAccess is the generic CRUD layer shared by every collection.
type DataAccess struct {
	store     ports.RecordStore
	validator Validator
	now       func() time.Time
	newID     func() string
	committed func()
}

func NewDataAccess(store ports.RecordStore, validator Validator) *DataAccess {
	return &DataAccess{
		store:     store,
		validator: validator,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return ulid.Make().String() },
	}
}

// OnCommit registers fn to run after every successful write.
func (s *DataAccess) OnCommit(fn func()) {
	s.committed = fn
}

func (s *DataAccess) notifyCommitted() {
	if s.committed != nil {
		s.committed()
	}
}

// Add stores data as a new record owned by ownerID and returns the merged
// record.
func (s *DataAccess) Add(ctx context.Context, collection string, data domain.Fields, ownerID string, meta domain.MutationMetadata) (domain.Record, error) {
	return s.addWithID(ctx, collection, s.newID(), data, ownerID, meta)
}

// addWithID is Add with a chosen identifier. An existing record with the same
// id is replaced, so ids never come from clients.
func (s *DataAccess) addWithID(ctx context.Context, collection, id string, data domain.Fields, ownerID string, meta domain.MutationMetadata) (domain.Record, error) {
	if err := domain.ValidateCollection(collection); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "add", Collection: collection, Err: err}
	}
	if err := domain.ValidateKey(id); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "add", Collection: collection, Err: err}
	}
	if err := domain.ValidateKey(ownerID); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "add", Collection: collection, Err: err}
	}
	body := data.WithoutBaseFields()
	if err := s.validate(ctx, ownerID, collection, body); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "add", Collection: collection, Err: err}
	}

	now := s.now()
	meta.OccurredAt = now
	rec, err := s.store.InsertWithEvents(ctx, domain.Record{
		Collection: collection,
		ID:         id,
		OwnerID:    ownerID,
		Data:       body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, meta)
	if err != nil {
		return domain.Record{}, &domain.WriteError{Op: "add", Collection: collection, ID: id, Err: err}
	}
	s.notifyCommitted()
	return rec, nil
}

// Update merges partial into the stored record and bumps updatedAt. The
// result carries only the id, the fields passed in and the new updatedAt;
// callers that need the full record must fetch it.
func (s *DataAccess) Update(ctx context.Context, collection, id string, partial domain.Fields, meta domain.MutationMetadata) (domain.Record, error) {
	if err := domain.ValidateCollection(collection); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "update", Collection: collection, ID: id, Err: err}
	}
	if err := domain.ValidateKey(id); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "update", Collection: collection, ID: id, Err: err}
	}
	body := partial.WithoutBaseFields()
	if err := s.validatePatch(ctx, collection, id, body); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "update", Collection: collection, ID: id, Err: err}
	}

	now := s.now()
	meta.OccurredAt = now
	if _, err := s.store.PatchWithEvents(ctx, collection, id, body, meta); err != nil {
		return domain.Record{}, &domain.WriteError{Op: "update", Collection: collection, ID: id, Err: err}
	}
	s.notifyCommitted()
	return domain.Record{
		Collection: collection,
		ID:         id,
		Data:       body,
		UpdatedAt:  now,
	}, nil
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *DataAccess) Delete(ctx context.Context, collection, id string, meta domain.MutationMetadata) (string, error) {
	if err := domain.ValidateCollection(collection); err != nil {
		return "", &domain.WriteError{Op: "delete", Collection: collection, ID: id, Err: err}
	}
	if err := domain.ValidateKey(id); err != nil {
		return "", &domain.WriteError{Op: "delete", Collection: collection, ID: id, Err: err}
	}
	meta.OccurredAt = s.now()
	removed, err := s.store.DeleteWithEvents(ctx, collection, id, meta)
	if err != nil {
		return "", &domain.WriteError{Op: "delete", Collection: collection, ID: id, Err: err}
	}
	if removed {
		s.notifyCommitted()
	}
	return id, nil
}

// GetAll returns every record of ownerID in collection, newest first.
func (s *DataAccess) GetAll(ctx context.Context, collection, ownerID string) ([]domain.Record, error) {
	if err := domain.ValidateCollection(collection); err != nil {
		return nil, &domain.ReadError{Op: "list", Collection: collection, Err: err}
	}
	if err := domain.ValidateKey(ownerID); err != nil {
		return nil, &domain.ReadError{Op: "list", Collection: collection, Err: err}
	}
	recs, err := s.store.ListByOwner(ctx, collection, ownerID)
	if err != nil {
		return nil, &domain.ReadError{Op: "list", Collection: collection, Err: err}
	}
	out := make([]domain.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.OwnerID != ownerID {
			continue
		}
		out = append(out, rec)
	}
	domain.SortNewestFirst(out)
	return out, nil
}

// GetByID is a point lookup. found is false when the record does not exist.
func (s *DataAccess) GetByID(ctx context.Context, collection, id string) (domain.Record, bool, error) {
	if err := domain.ValidateCollection(collection); err != nil {
		return domain.Record{}, false, &domain.ReadError{Op: "get", Collection: collection, Err: err}
	}
	if err := domain.ValidateKey(id); err != nil {
		return domain.Record{}, false, nil
	}
	rec, err := s.store.Get(ctx, collection, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, &domain.ReadError{Op: "get", Collection: collection, Err: err}
	}
	return rec, true, nil
}

// SearchByField returns the owner's records whose field renders as value.
func (s *DataAccess) SearchByField(ctx context.Context, collection, ownerID, field, value string) ([]domain.Record, error) {
	recs, err := s.GetAll(ctx, collection, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0)
	for _, rec := range recs {
		if domain.Fields(rec.Flatten()).String(field) == value {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetByDateRange returns the owner's records created within [from, to].
func (s *DataAccess) GetByDateRange(ctx context.Context, collection, ownerID string, from, to time.Time) ([]domain.Record, error) {
	recs, err := s.GetAll(ctx, collection, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0)
	for _, rec := range recs {
		if rec.CreatedAt.Before(from) || rec.CreatedAt.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

type BatchUpdateItem struct {
	ID   string        `json:"id"`
	Data domain.Fields `json:"data"`
}

// BatchUpdate applies several partial updates in order and stops at the first
// failure.
func (s *DataAccess) BatchUpdate(ctx context.Context, collection string, items []BatchUpdateItem, meta domain.MutationMetadata) ([]domain.Record, error) {
	result := make([]domain.Record, 0, len(items))
	for _, item := range items {
		rec, err := s.Update(ctx, collection, item.ID, item.Data, meta)
		if err != nil {
			return result, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *DataAccess) validate(ctx context.Context, ownerID, collection string, data domain.Fields) error {
	if s.validator == nil {
		return nil
	}
	return s.validator.Validate(ctx, ownerID, collection, data)
}

// validatePatch checks the record as it would look after the merge, so a
// schema with required fields does not reject partial updates.
func (s *DataAccess) validatePatch(ctx context.Context, collection, id string, patch domain.Fields) error {
	if s.validator == nil {
		return nil
	}
	current, err := s.store.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	merged := current.Merge(domain.Record{Data: patch})
	return s.validator.Validate(ctx, current.OwnerID, collection, merged.Data)
}
