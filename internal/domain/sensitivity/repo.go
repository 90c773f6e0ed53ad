package sensitivity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no tag exists for the requested resource.
var ErrNotFound = errors.New("sensitivity: tag not found")

// Repository persists sensitivity tags. One tag per resource: Upsert replaces
// the classification when the resource is re-tagged.
type Repository interface {
	Upsert(ctx context.Context, t *Tag) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tag, error)
	GetByResource(ctx context.Context, resourceType, resourceID string) (*Tag, error)
	List(ctx context.Context, limit, offset int) ([]*Tag, int, error)
}
