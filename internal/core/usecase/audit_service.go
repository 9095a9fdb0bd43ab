package usecase

import (
	"context"
	"fmt"

	"github.com/atvirokodosprendimai/rentdesk/internal/core/domain"
	"github.com/atvirokodosprendimai/rentdesk/internal/core/ports"
)

// AuditService serves the owner's activity feed from the audit trail.
type AuditService struct {
	repo ports.AuditTrailRepository
}

func NewAuditService(repo ports.AuditTrailRepository) *AuditService {
	return &AuditService{repo: repo}
}

func (s *AuditService) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditTrailEvent, error) {
	if err := domain.ValidateKey(filter.OwnerID); err != nil {
		return nil, err
	}
	if filter.Collection != "" {
		if err := domain.ValidateCollection(filter.Collection); err != nil {
			return nil, err
		}
	}
	if filter.RecordID != "" {
		if err := domain.ValidateKey(filter.RecordID); err != nil {
			return nil, err
		}
	}
	switch filter.Action {
	case "", domain.EventRecordCreated, domain.EventRecordUpdated, domain.EventRecordDeleted:
	default:
		return nil, domain.ErrInvalidKey
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.repo.List(ctx, filter)
}

// Walk pages through the owner's audit trail oldest first and hands every
// event to fn. It stops at the first error from fn.
func (s *AuditService) Walk(ctx context.Context, filter domain.AuditFilter, batchSize int, fn func(domain.AuditTrailEvent) error) error {
	filter.Limit = batchSize
	filter.OldestFirst = true
	filter.BeforeID = 0
	for {
		events, err := s.List(ctx, filter)
		if err != nil {
			return fmt.Errorf("list audit events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}
		for _, e := range events {
			if err := fn(e); err != nil {
				return fmt.Errorf("apply audit event %s: %w", e.EventID, err)
			}
			filter.AfterID = e.ID
		}
	}
}
