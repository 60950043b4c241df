package actor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory actor store for the memory storage driver and tests.
type MemStore struct {
	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{actors: make(map[string]*Actor)}
}

// EnsureTable is a no-op.
func (s *MemStore) EnsureTable(context.Context) error { return nil }

// Register creates or returns an existing actor. Idempotent.
func (s *MemStore) Register(_ context.Context, actorType, name, email string, role Role) (*Actor, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("register actor %s/%s: invalid role %q", actorType, name, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if (email != "" && a.Email == email) || (a.Type == actorType && a.Name == name) {
			cp := *a
			return &cp, nil
		}
	}
	a := &Actor{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      actorType,
		Name:      name,
		Email:     email,
		Role:      role,
		CreatedAt: time.Now().Truncate(time.Microsecond),
	}
	s.actors[a.ID] = a
	cp := *a
	return &cp, nil
}

// Get returns an actor by ID.
func (s *MemStore) Get(_ context.Context, id string) (*Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, fmt.Errorf("get actor %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

// ByName returns the oldest actor with the given name.
func (s *MemStore) ByName(ctx context.Context, name string) (*Actor, error) {
	all, _ := s.List(ctx)
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("actor by name %s: %w", name, ErrNotFound)
}

// List returns all actors ordered by creation.
func (s *MemStore) List(context.Context) ([]Actor, error) {
	s.mu.RLock()
	out := make([]Actor, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, *a)
	}
	s.mu.RUnlock()
	// UUIDv7 ids sort by creation time.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetRole replaces the role of an actor.
func (s *MemStore) SetRole(_ context.Context, id string, role Role) (*Actor, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("set role of actor %s: invalid role %q", id, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[id]
	if !ok {
		return nil, fmt.Errorf("set role of actor %s: %w", id, ErrNotFound)
	}
	a.Role = role
	cp := *a
	return &cp, nil
}
