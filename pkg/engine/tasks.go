package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// CreateTask stores a new task created by actorID. A new task has no
// dependencies, so any valid initial status is kept.
func (e *Engine) CreateTask(ctx context.Context, actorID string, t *task.Task) (*task.Task, error) {
	if err := e.guard.Require(ctx, actorID, authz.CanCreate); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.AssignedTo != "" {
		if err := e.checkAssignee(ctx, actorID, t.AssignedTo); err != nil {
			return nil, err
		}
	}
	in := *t
	in.CreatedBy = actorID

	var out *task.Task
	_, err := e.mutate(ctx, "create", func(tx store.Tx, r *run) error {
		var err error
		if out, err = tx.Tasks().Create(ctx, &in); err != nil {
			return err
		}
		r.touch(out.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("engine: task %d created by %s", out.ID, actorID)
	return out, nil
}

// UpdateTask applies a partial update. A "status" key is handled exactly
// like RequestStatusTransition and an "assigned_to" key like AssignTask,
// all in one transaction.
func (e *Engine) UpdateTask(ctx context.Context, actorID string, taskID int64, updates map[string]any) (*Outcome, error) {
	if err := task.ValidateUpdates(updates); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(updates))
	var requested task.Status
	for k, v := range updates {
		if k == "status" {
			requested = task.Status(fmt.Sprint(v))
			continue
		}
		fields[k] = v
	}
	if a, ok := fields["assigned_to"].(string); ok && a != "" {
		if err := e.checkAssignee(ctx, actorID, a); err != nil {
			return nil, err
		}
	}

	var out *task.Task
	r, err := e.mutate(ctx, "update", func(tx store.Tx, r *run) error {
		t, err := lockOne(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanUpdate, t); err != nil {
			return err
		}
		if _, ok := fields["assigned_to"]; ok {
			if err := e.guard.Allow(ctx, actorID, authz.CanAssign, t); err != nil {
				return err
			}
		}
		r.touch(taskID)
		out = t
		if len(fields) > 0 {
			if out, err = tx.Tasks().Update(ctx, taskID, fields); err != nil {
				return err
			}
		}
		if requested != "" {
			out, err = e.transition(ctx, tx, r, out, requested, actorID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.outcome(r, out), nil
}

// AssignTask sets or clears the assignee. Admins cannot be assignees.
func (e *Engine) AssignTask(ctx context.Context, actorID string, taskID int64, assigneeID string) (*task.Task, error) {
	if assigneeID != "" {
		if err := e.checkAssignee(ctx, actorID, assigneeID); err != nil {
			return nil, err
		}
	}
	var out *task.Task
	_, err := e.mutate(ctx, "assign", func(tx store.Tx, r *run) error {
		t, err := lockOne(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanAssign, t); err != nil {
			return err
		}
		r.touch(taskID)
		out, err = tx.Tasks().Update(ctx, taskID, map[string]any{"assigned_to": assigneeID})
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("engine: task %d assigned to %q by %s", taskID, assigneeID, actorID)
	return out, nil
}

func (e *Engine) checkAssignee(ctx context.Context, actorID, assigneeID string) error {
	if err := e.guard.Require(ctx, actorID, authz.CanAssign); err != nil {
		return err
	}
	if _, err := e.actors.Get(ctx, assigneeID); err != nil {
		if errors.Is(err, actor.ErrNotFound) {
			return fmt.Errorf("%w: assignee %q does not exist", task.ErrInvalid, assigneeID)
		}
		return err
	}
	return e.guard.Assignable(ctx, assigneeID)
}

// DeleteTask soft-deletes a task. A trashed task no longer blocks its
// dependents, so they are re-evaluated.
func (e *Engine) DeleteTask(ctx context.Context, actorID string, taskID int64) (*Outcome, error) {
	var out *task.Task
	r, err := e.mutate(ctx, "delete", func(tx store.Tx, r *run) error {
		t, err := lockOne(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanDelete, t); err != nil {
			return err
		}
		if out, err = tx.Tasks().SoftDelete(ctx, taskID); err != nil {
			return err
		}
		r.touch(taskID)
		return e.propagate(ctx, tx, r, taskID)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("engine: task %d trashed by %s", taskID, actorID)
	return e.outcome(r, out), nil
}

// RestoreTask brings a trashed task back, re-derives its own status and
// re-evaluates its dependents.
func (e *Engine) RestoreTask(ctx context.Context, actorID string, taskID int64) (*Outcome, error) {
	var out *task.Task
	r, err := e.mutate(ctx, "restore", func(tx store.Tx, r *run) error {
		locked, err := tx.Tasks().Lock(ctx, []int64{taskID})
		if err != nil {
			return err
		}
		t, ok := locked[taskID]
		if !ok || !t.Trashed() {
			return fmt.Errorf("trashed task %d: %w", taskID, task.ErrNotFound)
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanRestore, t); err != nil {
			return err
		}
		restored, err := tx.Tasks().Restore(ctx, taskID)
		if err != nil {
			return err
		}
		r.touch(taskID)
		if out, err = e.settle(ctx, tx, r, restored, 0); err != nil {
			return err
		}
		return e.propagate(ctx, tx, r, taskID)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("engine: task %d restored by %s", taskID, actorID)
	return e.outcome(r, out), nil
}

// ForceDeleteTask permanently removes a live or trashed task and its edges.
// No cascade runs; transition records are kept.
func (e *Engine) ForceDeleteTask(ctx context.Context, actorID string, taskID int64) error {
	_, err := e.mutate(ctx, "force delete", func(tx store.Tx, r *run) error {
		locked, err := tx.Tasks().Lock(ctx, []int64{taskID})
		if err != nil {
			return err
		}
		t, ok := locked[taskID]
		if !ok {
			return fmt.Errorf("task %d: %w", taskID, task.ErrNotFound)
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanForceDelete, t); err != nil {
			return err
		}
		dependents, err := tx.Edges().DependentsOf(ctx, []int64{taskID})
		if err != nil {
			return err
		}
		dependencies, err := tx.Edges().DependenciesOf(ctx, []int64{taskID})
		if err != nil {
			return err
		}
		if _, err := tx.Edges().RemoveAll(ctx, taskID); err != nil {
			return err
		}
		if err := tx.Tasks().Delete(ctx, taskID); err != nil {
			return err
		}
		r.touch(taskID)
		r.touch(dependents[taskID]...)
		r.touch(dependencies[taskID]...)
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("engine: task %d permanently deleted by %s", taskID, actorID)
	return nil
}
