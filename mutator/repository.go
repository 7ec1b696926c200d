// Package mutator is the domain side of the mutation bus: it applies create,
// update and delete commands to the authoritative store and publishes their
// results for the gateways to apply to their views.
package mutator

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/touristcache"
	"github.com/unkn0wn-root/touristcache/tourist"
)

// Repository is the authoritative tourist store.
type Repository interface {
	GetByID(ctx context.Context, id string) (tourist.Tourist, error)
	// Save inserts or replaces the tourist with t.ID. A taken email or phone
	// number is reported as tourist.ErrConflict.
	Save(ctx context.Context, t tourist.Tourist) (tourist.Tourist, error)
	// Delete removes the tourist and returns the removed record.
	Delete(ctx context.Context, id string) (tourist.Tourist, error)
}

// MemoryRepository keeps tourists in memory, in insertion order. It also
// serves the gateway's lookups, so a gateway can run embedded next to it.
type MemoryRepository struct {
	mu    sync.RWMutex
	byID  map[string]tourist.Tourist
	order []string
}

var (
	_ Repository               = (*MemoryRepository)(nil)
	_ touristcache.RemoteStore = (*MemoryRepository)(nil)
)

func NewMemoryRepository(seed ...tourist.Tourist) *MemoryRepository {
	r := &MemoryRepository{byID: make(map[string]tourist.Tourist)}
	for _, t := range seed {
		r.byID[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	return r
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (tourist.Tourist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return tourist.Tourist{}, tourist.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (tourist.Tourist, error) {
	return r.find(func(t tourist.Tourist) bool { return t.Email == email })
}

func (r *MemoryRepository) GetByPhone(_ context.Context, phone string) (tourist.Tourist, error) {
	return r.find(func(t tourist.Tourist) bool { return t.PhoneNumber == phone })
}

func (r *MemoryRepository) GetByNameAndSurname(_ context.Context, name, surname string) ([]tourist.Tourist, error) {
	return r.filter(func(t tourist.Tourist) bool { return t.Name == name && t.Surname == surname }), nil
}

func (r *MemoryRepository) GetAll(context.Context) ([]tourist.Tourist, error) {
	return r.filter(func(tourist.Tourist) bool { return true }), nil
}

func (r *MemoryRepository) Save(_ context.Context, t tourist.Tourist) (tourist.Tourist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, other := range r.byID {
		if id == t.ID {
			continue
		}
		if other.Email == t.Email || other.PhoneNumber == t.PhoneNumber {
			return tourist.Tourist{}, tourist.ErrConflict
		}
	}
	if _, ok := r.byID[t.ID]; !ok {
		r.order = append(r.order, t.ID)
	}
	r.byID[t.ID] = t
	return t, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) (tourist.Tourist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return tourist.Tourist{}, tourist.ErrNotFound
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return t, nil
}

func (r *MemoryRepository) find(match func(tourist.Tourist) bool) (tourist.Tourist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if t := r.byID[id]; match(t) {
			return t, nil
		}
	}
	return tourist.Tourist{}, tourist.ErrNotFound
}

func (r *MemoryRepository) filter(match func(tourist.Tourist) bool) []tourist.Tourist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []tourist.Tourist{}
	for _, id := range r.order {
		if t := r.byID[id]; match(t) {
			out = append(out, t)
		}
	}
	return out
}
