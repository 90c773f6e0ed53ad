package sensitivity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service validates and stores sensitivity classifications.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Tag classifies a resource, replacing any previous classification.
func (s *Service) Tag(ctx context.Context, t *Tag) error {
	if t.ResourceType == "" {
		return fmt.Errorf("resource_type is required")
	}
	if t.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if !t.Level.Valid() {
		return fmt.Errorf("unknown sensitivity level %q", t.Level)
	}
	if t.Category == "" {
		t.Category = CategoryGeneral
	}
	if !t.Category.Valid() {
		return fmt.Errorf("unknown sensitivity category %q", t.Category)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	return s.repo.Upsert(ctx, t)
}

// Lookup returns the tag for a resource, or nil when the resource is
// unclassified. Untagged resources are treated as normal sensitivity.
func (s *Service) Lookup(ctx context.Context, resourceType, resourceID string) (*Tag, error) {
	t, err := s.repo.GetByResource(ctx, resourceType, resourceID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Get returns a tag by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Tag, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns tags ordered by resource.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Tag, int, error) {
	return s.repo.List(ctx, limit, offset)
}
