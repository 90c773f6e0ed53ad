package sensitivity

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type resourceKey struct {
	typ string
	id  string
}

// memoryRepo is a thread-safe in-memory Repository used for development and
// tests.
type memoryRepo struct {
	mu         sync.Mutex
	byResource map[resourceKey]*Tag
	byID       map[uuid.UUID]*Tag
}

// NewMemoryRepo creates an empty in-memory tag repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{
		byResource: make(map[resourceKey]*Tag),
		byID:       make(map[uuid.UUID]*Tag),
	}
}

func (r *memoryRepo) Upsert(_ context.Context, t *Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := resourceKey{typ: t.ResourceType, id: t.ResourceID}
	if existing, ok := r.byResource[key]; ok {
		t.ID = existing.ID
		t.CreatedAt = existing.CreatedAt
		delete(r.byID, existing.ID)
	}

	stored := *t
	r.byResource[key] = &stored
	r.byID[stored.ID] = &stored
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *memoryRepo) GetByResource(_ context.Context, resourceType, resourceID string) (*Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byResource[resourceKey{typ: resourceType, id: resourceID}]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]*Tag, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Tag, 0, len(r.byResource))
	for _, t := range r.byResource {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ResourceType != all[j].ResourceType {
			return all[i].ResourceType < all[j].ResourceType
		}
		return all[i].ResourceID < all[j].ResourceID
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Tag, 0, end-offset)
	for _, t := range all[offset:end] {
		copied := *t
		out = append(out, &copied)
	}
	return out, total, nil
}
