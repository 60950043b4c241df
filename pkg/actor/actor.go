package actor

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an actor id or name does not resolve.
var ErrNotFound = errors.New("actor not found")

// Actor types.
const (
	TypeHuman  = "human"
	TypeSystem = "system"
)

// Role is the single role an actor holds.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
	// RoleSystem is held by internal actors such as the cascade actor.
	RoleSystem Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleDeveloper, RoleSystem:
		return true
	}
	return false
}

// Actor represents an identified entity in the system.
type Actor struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "human", "system"
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the contract for actor persistence.
type Store interface {
	// Register creates or returns an existing actor. Idempotent:
	// matches on (type, name) or email. An existing actor keeps its role.
	Register(ctx context.Context, actorType, name, email string, role Role) (*Actor, error)

	Get(ctx context.Context, id string) (*Actor, error)
	ByName(ctx context.Context, name string) (*Actor, error)
	List(ctx context.Context) ([]Actor, error)

	// SetRole replaces the role of an actor.
	SetRole(ctx context.Context, id string, role Role) (*Actor, error)

	EnsureTable(ctx context.Context) error
}

// RegisterCascade registers the system actor that cascade transitions are
// attributed to.
func RegisterCascade(ctx context.Context, s Store, name string) (*Actor, error) {
	return s.Register(ctx, TypeSystem, name, "", RoleSystem)
}
