package breakglass

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo is a thread-safe in-memory Repository used for development and
// tests.
type memoryRepo struct {
	mu     sync.Mutex
	grants map[uuid.UUID]*Grant
}

// NewMemoryRepo creates an empty in-memory grant repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{grants: make(map[uuid.UUID]*Grant)}
}

func (r *memoryRepo) Create(_ context.Context, g *Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyGrant(g)
	r.grants[stored.ID] = stored
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

func (r *memoryRepo) FindActive(_ context.Context, userID, patientID string, now time.Time) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *Grant
	for _, g := range r.grants {
		if g.UserID != userID || g.PatientID != patientID {
			continue
		}
		if !g.ActiveAt(now) {
			continue
		}
		if best == nil || g.AccessGrantedAt.After(best.AccessGrantedAt) {
			best = g
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyGrant(best), nil
}

func (r *memoryRepo) AddResource(_ context.Context, grantID uuid.UUID, ref ResourceRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	if !g.HasAccessed(ref) {
		g.ResourcesAccessed = append(g.ResourcesAccessed, ref)
	}
	return nil
}

func (r *memoryRepo) Revoke(_ context.Context, grantID uuid.UUID, revokedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	if g.Revoked {
		return nil
	}
	g.Revoked = true
	g.RevokedBy = &revokedBy
	g.RevokedAt = &at
	g.UpdatedAt = at
	return nil
}

func (r *memoryRepo) Approve(_ context.Context, grantID uuid.UUID, approvedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[grantID]
	if !ok {
		return ErrNotFound
	}
	if g.ApprovedBy != nil {
		return nil
	}
	g.ApprovedBy = &approvedBy
	g.ApprovedAt = &at
	g.UpdatedAt = at
	return nil
}

func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]*Grant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(func(*Grant) bool { return true }, limit, offset)
}

func (r *memoryRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Grant, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(func(g *Grant) bool { return g.PatientID == patientID }, limit, offset)
}

func (r *memoryRepo) listLocked(match func(*Grant) bool, limit, offset int) ([]*Grant, int, error) {
	var all []*Grant
	for _, g := range r.grants {
		if match(g) {
			all = append(all, g)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].AccessGrantedAt.After(all[j].AccessGrantedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Grant, 0, end-offset)
	for _, g := range all[offset:end] {
		out = append(out, copyGrant(g))
	}
	return out, total, nil
}

func copyGrant(g *Grant) *Grant {
	copied := *g
	copied.ResourcesAccessed = append([]ResourceRef(nil), g.ResourcesAccessed...)
	return &copied
}
