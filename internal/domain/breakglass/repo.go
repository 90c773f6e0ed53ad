package breakglass

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists break-glass grants. Grants are insert-and-amend only:
// no Delete method exists, Revoke is one-way, and AddResource must be
// idempotent (recording the same resource twice leaves one entry).
type Repository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Grant, error)

	// FindActive returns the most recently granted non-revoked grant for the
	// user/patient pair that is active at now, or ErrNotFound.
	FindActive(ctx context.Context, userID, patientID string, now time.Time) (*Grant, error)

	AddResource(ctx context.Context, grantID uuid.UUID, ref ResourceRef) error

	// Revoke marks the grant revoked. A grant already revoked keeps its
	// original revoker and time.
	Revoke(ctx context.Context, grantID uuid.UUID, revokedBy string, at time.Time) error

	// Approve records the retrospective compliance annotation. A grant
	// already approved keeps its original approver and time.
	Approve(ctx context.Context, grantID uuid.UUID, approvedBy string, at time.Time) error

	List(ctx context.Context, limit, offset int) ([]*Grant, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Grant, int, error)
}
