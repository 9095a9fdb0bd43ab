package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// SchemaService manages optional JSON schemas, one per owner and collection,
// and validates record data against them. A collection without a schema
// accepts anything. One owner's schema never constrains another owner.
type SchemaService struct {
	repo  ports.CollectionSchemaRepository
	cache sync.Map // schemaKey -> *santhosh.Schema, or noSchema
}

type schemaKey struct {
	owner      string
	collection string
}

// noSchema caches the absence of a schema so unconstrained collections do not
// hit the store on every write.
type noSchema struct{}

func NewSchemaService(repo ports.CollectionSchemaRepository) *SchemaService {
	return &SchemaService{repo: repo}
}

func (s *SchemaService) Upsert(ctx context.Context, ownerID, collection string, schemaJSON json.RawMessage) (domain.CollectionSchema, error) {
	if err := validateSchemaKey(ownerID, collection); err != nil {
		return domain.CollectionSchema{}, err
	}
	if !json.Valid(schemaJSON) {
		return domain.CollectionSchema{}, fmt.Errorf("%w: schema must be valid json", domain.ErrInvalidSchema)
	}
	if err := compilable(schemaJSON); err != nil {
		return domain.CollectionSchema{}, fmt.Errorf("%w: %v", domain.ErrInvalidSchema, err)
	}
	s.cache.Delete(schemaKey{ownerID, collection})
	return s.repo.Upsert(ctx, domain.CollectionSchema{
		OwnerID:    ownerID,
		Collection: collection,
		Schema:     schemaJSON,
	})
}

func (s *SchemaService) Get(ctx context.Context, ownerID, collection string) (domain.CollectionSchema, error) {
	if err := validateSchemaKey(ownerID, collection); err != nil {
		return domain.CollectionSchema{}, err
	}
	return s.repo.Get(ctx, ownerID, collection)
}

func (s *SchemaService) Delete(ctx context.Context, ownerID, collection string) (bool, error) {
	if err := validateSchemaKey(ownerID, collection); err != nil {
		return false, err
	}
	s.cache.Delete(schemaKey{ownerID, collection})
	return s.repo.Delete(ctx, ownerID, collection)
}

// Validate checks data against the owner's schema for collection. Returns
// *domain.ErrSchemaViolation on failure.
func (s *SchemaService) Validate(ctx context.Context, ownerID, collection string, data domain.Fields) error {
	key := schemaKey{ownerID, collection}
	if cached, ok := s.cache.Load(key); ok {
		if sch, ok := cached.(*santhosh.Schema); ok {
			return runValidation(sch, data)
		}
		return nil
	}

	cs, err := s.repo.Get(ctx, ownerID, collection)
	if errors.Is(err, domain.ErrNotFound) {
		s.cache.Store(key, noSchema{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	compiled, err := compileSchema(cs.Schema)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	s.cache.Store(key, compiled)
	return runValidation(compiled, data)
}

func validateSchemaKey(ownerID, collection string) error {
	if err := domain.ValidateKey(ownerID); err != nil {
		return err
	}
	return domain.ValidateCollection(collection)
}

func compileSchema(schemaJSON json.RawMessage) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// runValidation round-trips data through JSON so the validator sees plain
// decoded values (json.Number, nested maps) rather than Go types.
func runValidation(sch *santhosh.Schema, data domain.Fields) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrSchemaViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrSchemaViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}

func compilable(schemaJSON json.RawMessage) error {
	_, err := compileSchema(schemaJSON)
	return err
}
