package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memoryRepo is a thread-safe in-memory Repository used for development and
// tests. It enforces the same head-CAS discipline as the Postgres repo.
type memoryRepo struct {
	mu     sync.Mutex
	events []*Event
	byID   map[uuid.UUID]*Event
}

// NewMemoryRepo creates an empty in-memory ledger repository.
func NewMemoryRepo() Repository {
	return &memoryRepo{byID: make(map[uuid.UUID]*Event)}
}

func (r *memoryRepo) Head(_ context.Context) (Head, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headLocked(), nil
}

func (r *memoryRepo) headLocked() Head {
	if len(r.events) == 0 {
		return Head{}
	}
	last := r.events[len(r.events)-1]
	return Head{Seq: last.Seq, Hash: last.Hash}
}

func (r *memoryRepo) Append(_ context.Context, e *Event, expected Head) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.headLocked() != expected {
		return ErrHeadConflict
	}

	stored := *e
	r.events = append(r.events, &stored)
	r.byID[stored.ID] = &stored
	return nil
}

func (r *memoryRepo) ListRange(_ context.Context, fromSeq, toSeq int64, limit int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Event
	for _, e := range r.events {
		if e.Seq < fromSeq || e.Seq > toSeq {
			continue
		}
		copied := *e
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) List(_ context.Context, limit, offset int) ([]*Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.events)
	var out []*Event
	// Newest first.
	for i := total - 1 - offset; i >= 0; i-- {
		copied := *r.events[i]
		out = append(out, &copied)
		if len(out) >= limit {
			break
		}
	}
	return out, total, nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}
