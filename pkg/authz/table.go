package authz

import (
	"context"
	"errors"

	"taskgraph/pkg/actor"
)

// Table maps each role to the capabilities it grants.
type Table map[actor.Role][]Capability

// DefaultTable is the stock role assignment.
var DefaultTable = Table{
	actor.RoleAdmin: Capabilities(),
	actor.RoleManager: {
		CanView, CanCreate, CanUpdate, CanAssign, CanDelete, CanRestore,
	},
	actor.RoleDeveloper: {
		CanView, CanChangeStatus,
	},
}

// Grants reports whether role r has capability c.
func (t Table) Grants(r actor.Role, c Capability) bool {
	for _, have := range t[r] {
		if have == c {
			return true
		}
	}
	return false
}

// RoleLookup resolves an actor's role.
type RoleLookup interface {
	Get(ctx context.Context, id string) (*actor.Actor, error)
}

// TableProvider answers from a Table and the actor registry.
type TableProvider struct {
	Table  Table
	Actors RoleLookup
}

// NewTableProvider creates a TableProvider.
func NewTableProvider(t Table, actors RoleLookup) *TableProvider {
	return &TableProvider{Table: t, Actors: actors}
}

func (p *TableProvider) role(ctx context.Context, actorID string) (actor.Role, error) {
	if actorID == "" {
		return "", nil
	}
	a, err := p.Actors.Get(ctx, actorID)
	if errors.Is(err, actor.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return a.Role, nil
}

// HasCapability implements Provider.
func (p *TableProvider) HasCapability(ctx context.Context, actorID string, c Capability) (bool, error) {
	r, err := p.role(ctx, actorID)
	if err != nil {
		return false, err
	}
	return p.Table.Grants(r, c), nil
}

// HasRole implements Provider.
func (p *TableProvider) HasRole(ctx context.Context, actorID string, want actor.Role) (bool, error) {
	r, err := p.role(ctx, actorID)
	if err != nil {
		return false, err
	}
	return r != "" && r == want, nil
}
