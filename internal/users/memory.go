package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a map-backed Repository for tests and local runs.
// Uniqueness is checked and applied under a single write lock.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*User
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[uuid.UUID]*User),
		byEmail:    make(map[string]uuid.UUID),
		byUsername: make(map[string]uuid.UUID),
	}
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(context.Context) error { return nil }

// Create stores a copy of u.
func (r *MemoryRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[u.Email]; ok {
		return ErrDuplicateEmail
	}
	if _, ok := r.byUsername[u.Username]; ok {
		return ErrDuplicateUsername
	}

	cp := copyUser(u)
	r.byID[u.ID] = cp
	r.byEmail[u.Email] = u.ID
	r.byUsername[u.Username] = u.ID
	return nil
}

// Update replaces the stored record with the same ID if its updated_at still
// equals prevUpdatedAt.
func (r *MemoryRepository) Update(_ context.Context, u *User, prevUpdatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.byID[u.ID]
	if !ok {
		return ErrNotFound
	}
	if !prev.UpdatedAt.Equal(prevUpdatedAt) {
		return ErrStale
	}
	if id, ok := r.byEmail[u.Email]; ok && id != u.ID {
		return ErrDuplicateEmail
	}
	if id, ok := r.byUsername[u.Username]; ok && id != u.ID {
		return ErrDuplicateUsername
	}

	delete(r.byEmail, prev.Email)
	delete(r.byUsername, prev.Username)
	r.byID[u.ID] = copyUser(u)
	r.byEmail[u.Email] = u.ID
	r.byUsername[u.Username] = u.ID
	return nil
}

// GetByID returns a copy of the record with the given ID.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetByEmail returns a copy of the record with the given email.
func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(r.byID[id]), nil
}

// GetByUsername returns a copy of the record with the given username.
func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(r.byID[id]), nil
}

// ListRecent returns up to limit records ordered by CreatedAt descending.
func (r *MemoryRepository) ListRecent(_ context.Context, limit int) ([]*User, error) {
	r.mu.RLock()
	out := make([]*User, 0, len(r.byID))
	for _, u := range r.byID {
		out = append(out, copyUser(u))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyUser(u *User) *User {
	cp := *u
	cp.ProfilePictureURL = cloneString(u.ProfilePictureURL)
	cp.Country = cloneString(u.Country)
	return &cp
}
