package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrHeadConflict is returned by Repository.Append when the chain head moved
// between the caller's read and the conditional write. The ledger retries on
// it with a fresh head.
var ErrHeadConflict = errors.New("audit: chain head changed")

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("audit: event not found")

// Repository persists chained audit events. Implementations must make Append
// atomic: the event row and the head advance commit together or not at all,
// and the write fails with ErrHeadConflict when expected no longer matches
// the stored head. Events are insert-only; no update or delete methods exist
// by design.
type Repository interface {
	// Head returns the current chain head. The zero Head means empty.
	Head(ctx context.Context) (Head, error)

	// Append stores the event conditioned on the chain head still being
	// expected. The event must carry Seq = expected.Seq + 1.
	Append(ctx context.Context, e *Event, expected Head) error

	// ListRange returns events with Seq in [fromSeq, toSeq],
	// ordered by Seq ascending, at most limit rows per call.
	ListRange(ctx context.Context, fromSeq, toSeq int64, limit int) ([]*Event, error)

	// List returns events ordered by Seq descending for the API surface.
	List(ctx context.Context, limit, offset int) ([]*Event, int, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
}
