// Package authz decides whether an actor may perform an operation on a task.
// Capabilities come from a Provider; ownership rules are per role.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/task"
)

// ErrUnauthorized is returned before any mutation when the actor lacks the
// capability or does not own the task.
var ErrUnauthorized = errors.New("unauthorized")

// Capability names an operation class.
type Capability string

const (
	CanView         Capability = "can-view"
	CanCreate       Capability = "can-create"
	CanUpdate       Capability = "can-update"
	CanDelete       Capability = "can-delete"
	CanAssign       Capability = "can-assign"
	CanChangeStatus Capability = "can-change-status"
	CanViewTrashed  Capability = "can-view-trashed"
	CanRestore      Capability = "can-restore"
	CanForceDelete  Capability = "can-force-delete"
)

// Capabilities returns every capability.
func Capabilities() []Capability {
	return []Capability{CanView, CanCreate, CanUpdate, CanDelete, CanAssign,
		CanChangeStatus, CanViewTrashed, CanRestore, CanForceDelete}
}

// Provider answers capability and role questions about an actor. Unknown
// actors have no capabilities and no role.
type Provider interface {
	HasCapability(ctx context.Context, actorID string, c Capability) (bool, error)
	HasRole(ctx context.Context, actorID string, r actor.Role) (bool, error)
}

// Scope restricts which tasks a listing may return. Empty fields do not restrict.
type Scope struct {
	CreatedBy  string
	AssignedTo string
}

// Apply narrows f to the scope.
func (s Scope) Apply(f task.Filter) task.Filter {
	if s.CreatedBy != "" {
		f.CreatedBy = s.CreatedBy
	}
	if s.AssignedTo != "" {
		f.AssignedTo = s.AssignedTo
	}
	return f
}

// Guard enforces capabilities plus ownership.
type Guard struct {
	p Provider
}

// NewGuard creates a Guard over p.
func NewGuard(p Provider) *Guard {
	return &Guard{p: p}
}

// Require checks a capability that is not tied to a particular task.
func (g *Guard) Require(ctx context.Context, actorID string, c Capability) error {
	ok, err := g.p.HasCapability(ctx, actorID, c)
	if err != nil {
		return fmt.Errorf("check %s for %s: %w", c, actorID, err)
	}
	if !ok {
		log.Printf("authz: denied %s to actor %q", c, actorID)
		return fmt.Errorf("actor %q lacks %s: %w", actorID, c, ErrUnauthorized)
	}
	return nil
}

// Allow checks c on t. Managers must have created t; developers must be
// assigned to it.
func (g *Guard) Allow(ctx context.Context, actorID string, c Capability, t *task.Task) error {
	if err := g.Require(ctx, actorID, c); err != nil {
		return err
	}
	scope, err := g.Scope(ctx, actorID)
	if err != nil {
		return err
	}
	if (scope.CreatedBy != "" && t.CreatedBy != actorID) || (scope.AssignedTo != "" && t.AssignedTo != actorID) {
		log.Printf("authz: denied %s on task %d to actor %q (not owner)", c, t.ID, actorID)
		return fmt.Errorf("actor %q may not %s task %d: %w", actorID, c, t.ID, ErrUnauthorized)
	}
	return nil
}

// Scope returns the ownership restriction for actorID.
func (g *Guard) Scope(ctx context.Context, actorID string) (Scope, error) {
	admin, err := g.p.HasRole(ctx, actorID, actor.RoleAdmin)
	if err != nil {
		return Scope{}, fmt.Errorf("role of %s: %w", actorID, err)
	}
	if admin {
		return Scope{}, nil
	}
	manager, err := g.p.HasRole(ctx, actorID, actor.RoleManager)
	if err != nil {
		return Scope{}, fmt.Errorf("role of %s: %w", actorID, err)
	}
	if manager {
		return Scope{CreatedBy: actorID}, nil
	}
	return Scope{AssignedTo: actorID}, nil
}

// Assignable rejects assignees that hold the admin role.
func (g *Guard) Assignable(ctx context.Context, assigneeID string) error {
	admin, err := g.p.HasRole(ctx, assigneeID, actor.RoleAdmin)
	if err != nil {
		return fmt.Errorf("role of %s: %w", assigneeID, err)
	}
	if admin {
		return fmt.Errorf("%w: tasks cannot be assigned to admin %q", task.ErrInvalid, assigneeID)
	}
	return nil
}

// RequireRole checks that actorID holds role r.
func (g *Guard) RequireRole(ctx context.Context, actorID string, r actor.Role) error {
	ok, err := g.p.HasRole(ctx, actorID, r)
	if err != nil {
		return fmt.Errorf("role of %s: %w", actorID, err)
	}
	if !ok {
		log.Printf("authz: actor %q is not %s", actorID, r)
		return fmt.Errorf("actor %q is not %s: %w", actorID, r, ErrUnauthorized)
	}
	return nil
}
