package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careledger/careledger/internal/domain/sensitivity"
)

// memoryRepo is a thread-safe in-memory Repository used for development and
// tests.
type memoryRepo struct {
	mu         sync.Mutex
	directives map[uuid.UUID]*Directive
}

// NewMemoryRepo creates an empty in-memory directive repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{directives: make(map[uuid.UUID]*Directive)}
}

func copyDirective(d *Directive) *Directive {
	copied := *d
	if d.Categories != nil {
		copied.Categories = make([]sensitivity.Category, len(d.Categories))
		copy(copied.Categories, d.Categories)
	}
	if d.PermittedRoles != nil {
		copied.PermittedRoles = make([]string, len(d.PermittedRoles))
		copy(copied.PermittedRoles, d.PermittedRoles)
	}
	return &copied
}

func (r *memoryRepo) Create(_ context.Context, d *Directive) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.directives[d.ID] = copyDirective(d)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Directive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.directives[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDirective(d), nil
}

func (r *memoryRepo) ListActive(_ context.Context, patientID string, now time.Time) ([]*Directive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Directive
	for _, d := range r.directives {
		if d.PatientID == patientID && d.ActiveAt(now) {
			out = append(out, copyDirective(d))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *memoryRepo) ListByPatient(_ context.Context, patientID string) ([]*Directive, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Directive
	for _, d := range r.directives {
		if d.PatientID == patientID {
			out = append(out, copyDirective(d))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *memoryRepo) Verify(_ context.Context, id uuid.UUID, verifiedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.directives[id]
	if !ok {
		return ErrNotFound
	}
	if d.Verified {
		return nil
	}
	d.Verified = true
	d.VerifiedBy = &verifiedBy
	d.VerifiedAt = &at
	d.UpdatedAt = at
	return nil
}

func (r *memoryRepo) Revoke(_ context.Context, id uuid.UUID, revokedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.directives[id]
	if !ok {
		return ErrNotFound
	}
	if d.Status == StatusRevoked {
		return nil
	}
	d.Status = StatusRevoked
	d.RevokedBy = &revokedBy
	d.RevokedAt = &at
	d.UpdatedAt = at
	return nil
}

func sortNewestFirst(directives []*Directive) {
	sort.Slice(directives, func(i, j int) bool {
		return directives[i].UpdatedAt.After(directives[j].UpdatedAt)
	})
}
