package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskgraph/pkg/audit"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/status"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// RequestStatusTransition asks for taskID to move to requested on behalf of
// actorID. While the task has an incomplete dependency any request other
// than Completed is recorded as Blocked. The change and its cascade commit
// together.
func (e *Engine) RequestStatusTransition(ctx context.Context, actorID string, taskID int64, requested task.Status) (*Outcome, error) {
	if !requested.Valid() {
		return nil, fmt.Errorf("%w: status must be one of Open, In_Progress, Completed, Blocked", task.ErrInvalid)
	}
	var out *task.Task
	r, err := e.mutate(ctx, "status", func(tx store.Tx, r *run) error {
		t, err := lockOne(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanChangeStatus, t); err != nil {
			return err
		}
		out, err = e.transition(ctx, tx, r, t, requested, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	root := r.records[0]
	log.Printf("engine: task %d %s -> %s by %s (requested %s)", taskID, root.Previous, root.New, actorID, requested)
	return e.outcome(r, out), nil
}

// transition applies an explicit request to a locked task and propagates
// from it. The explicit record is written even when the status is unchanged.
func (e *Engine) transition(ctx context.Context, tx store.Tx, r *run, t *task.Task, requested task.Status, actorID string) (*task.Task, error) {
	blocked, err := derive(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	next := status.Decide(requested, blocked)

	updated := t
	if next != t.Status {
		if updated, err = tx.Tasks().SetStatus(ctx, t.ID, next, t.Version); err != nil {
			return nil, err
		}
	}
	r.record(audit.Record{
		TaskID:    t.ID,
		Previous:  t.Status,
		New:       next,
		Requested: requested,
		ActorID:   actorID,
	})
	if err := e.propagate(ctx, tx, r, t.ID); err != nil {
		return nil, err
	}
	return updated, nil
}

// RecomputeBlockedState re-derives taskID's status from its dependencies
// and cascades any change. Calling it again without intervening writes
// changes nothing and records nothing.
func (e *Engine) RecomputeBlockedState(ctx context.Context, taskID int64) (*Outcome, error) {
	var out *task.Task
	r, err := e.mutate(ctx, "recompute", func(tx store.Tx, r *run) error {
		t, err := lockOne(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if out, err = e.settle(ctx, tx, r, t, 0); err != nil {
			return err
		}
		return e.propagate(ctx, tx, r, taskID)
	})
	if err != nil {
		return nil, err
	}
	return e.outcome(r, out), nil
}

// Recompute is RecomputeBlockedState for an actor allowed to update the task.
func (e *Engine) Recompute(ctx context.Context, actorID string, taskID int64) (*Outcome, error) {
	t, err := e.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.guard.Allow(ctx, actorID, authz.CanUpdate, t); err != nil {
		return nil, err
	}
	return e.RecomputeBlockedState(ctx, taskID)
}

// RecomputeAll recomputes every live task and returns the number of
// transitions written.
func (e *Engine) RecomputeAll(ctx context.Context) (int, error) {
	var ids []int64
	f := task.Filter{Page: 1, PerPage: task.MaxPerPage}
	for {
		var page *task.Page
		err := e.runner.View(ctx, func(tx store.Tx) error {
			var err error
			page, err = tx.Tasks().List(ctx, f)
			return err
		})
		if err != nil {
			return 0, err
		}
		for _, t := range page.Tasks {
			ids = append(ids, t.ID)
		}
		if f.Page*f.PerPage >= page.Total {
			break
		}
		f.Page++
	}

	total := 0
	for _, id := range ids {
		o, err := e.RecomputeBlockedState(ctx, id)
		if errors.Is(err, task.ErrNotFound) {
			continue
		}
		if err != nil {
			return total, fmt.Errorf("recompute task %d: %w", id, err)
		}
		total += len(o.Records)
	}
	return total, nil
}

// load reads a live task outside any transaction.
func (e *Engine) load(ctx context.Context, id int64) (*task.Task, error) {
	var t *task.Task
	err := e.runner.View(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.Tasks().Get(ctx, id)
		return err
	})
	return t, err
}
