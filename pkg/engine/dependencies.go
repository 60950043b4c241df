package engine

import (
	"context"
	"fmt"

	"taskgraph/pkg/authz"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// AddDependency makes taskID depend on dependsOnID, then re-derives
// taskID's status and cascades. Adding an existing edge changes nothing.
func (e *Engine) AddDependency(ctx context.Context, actorID string, taskID, dependsOnID int64) (*Outcome, error) {
	if taskID == dependsOnID {
		return nil, fmt.Errorf("task %d cannot depend on itself: %w", taskID, dependency.ErrInvalidEdge)
	}
	var out *task.Task
	r, err := e.mutate(ctx, "add dependency", func(tx store.Tx, r *run) error {
		if err := tx.Edges().LockGraph(ctx); err != nil {
			return err
		}
		locked, err := tx.Tasks().Lock(ctx, sorted(taskID, dependsOnID))
		if err != nil {
			return err
		}
		for _, id := range []int64{taskID, dependsOnID} {
			if t, ok := locked[id]; !ok || t.Trashed() {
				return fmt.Errorf("task %d: %w", id, task.ErrNotFound)
			}
		}
		t := locked[taskID]
		if err := e.guard.Allow(ctx, actorID, authz.CanUpdate, t); err != nil {
			return err
		}
		if err := dependency.Check(ctx, tx.Edges(), taskID, dependsOnID); err != nil {
			return err
		}
		_, created, err := tx.Edges().Add(ctx, taskID, dependsOnID, actorID)
		if err != nil {
			return err
		}
		if !created {
			out = t
			return nil
		}
		r.touch(taskID, dependsOnID)
		if out, err = e.settle(ctx, tx, r, t, dependsOnID); err != nil {
			return err
		}
		return e.propagate(ctx, tx, r, taskID)
	})
	if err != nil {
		return nil, err
	}
	return e.outcome(r, out), nil
}

// RemoveDependency deletes the edge and re-derives taskID's status.
func (e *Engine) RemoveDependency(ctx context.Context, actorID string, taskID, dependsOnID int64) (*Outcome, error) {
	var out *task.Task
	r, err := e.mutate(ctx, "remove dependency", func(tx store.Tx, r *run) error {
		t, err := lockOne(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanUpdate, t); err != nil {
			return err
		}
		removed, err := tx.Edges().Remove(ctx, taskID, dependsOnID)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("task %d -> %d: %w", taskID, dependsOnID, dependency.ErrNotFound)
		}
		r.touch(taskID, dependsOnID)
		if out, err = e.settle(ctx, tx, r, t, dependsOnID); err != nil {
			return err
		}
		return e.propagate(ctx, tx, r, taskID)
	})
	if err != nil {
		return nil, err
	}
	return e.outcome(r, out), nil
}

// Dependencies returns the outgoing edges of a task the actor may view.
func (e *Engine) Dependencies(ctx context.Context, actorID string, taskID int64) ([]dependency.Edge, error) {
	view, err := e.GetTask(ctx, actorID, taskID)
	if err != nil {
		return nil, err
	}
	return view.Edges, nil
}

// DetectCycles loads the whole graph and returns one cycle, or nil.
func (e *Engine) DetectCycles(ctx context.Context) ([]int64, error) {
	var edges []dependency.Edge
	err := e.runner.View(ctx, func(tx store.Tx) error {
		var err error
		edges, err = tx.Edges().All(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dependency.NewGraph(edges).DetectCycle(), nil
}

func sorted(a, b int64) []int64 {
	if a > b {
		return []int64{b, a}
	}
	return []int64{a, b}
}
