package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("consent directive not found")

// Repository persists consent directives.
type Repository interface {
	Create(ctx context.Context, d *Directive) error

	GetByID(ctx context.Context, id uuid.UUID) (*Directive, error)

	// ListActive returns the patient's directives whose stored status is
	// active and whose validity period contains now.
	ListActive(ctx context.Context, patientID string, now time.Time) ([]*Directive, error)

	// ListByPatient returns all of the patient's directives regardless of
	// status, newest first.
	ListByPatient(ctx context.Context, patientID string) ([]*Directive, error)

	// Verify marks the directive as verified. Re-verifying keeps the first
	// verifier and is a no-op.
	Verify(ctx context.Context, id uuid.UUID, verifiedBy string, at time.Time) error

	// Revoke sets the directive status to revoked. Revocation is one-way;
	// revoking an already revoked directive keeps the first revoker.
	Revoke(ctx context.Context, id uuid.UUID, revokedBy string, at time.Time) error
}
