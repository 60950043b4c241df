package engine

import (
	"context"
	"fmt"
	"sort"

	"taskgraph/pkg/audit"
	"taskgraph/pkg/status"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// propagate re-evaluates the transitive dependents of roots breadth first.
// Each level is fetched and locked in one batch; only dependents whose
// status changed are expanded further. A task is evaluated at most once
// per run, so an undetected cycle still terminates.
func (e *Engine) propagate(ctx context.Context, tx store.Tx, r *run, roots ...int64) error {
	visited := make(map[int64]bool, len(roots))
	for _, id := range roots {
		visited[id] = true
	}
	frontier := append([]int64(nil), roots...)
	evaluated := 0

	for depth := 1; len(frontier) > 0; depth++ {
		sortIDs(frontier)
		dependents, err := tx.Edges().DependentsOf(ctx, frontier)
		if err != nil {
			return fmt.Errorf("dependents of %v: %w", frontier, err)
		}

		cause := make(map[int64]int64)
		var batch []int64
		for _, from := range frontier {
			for _, d := range dependents[from] {
				if visited[d] {
					continue
				}
				visited[d] = true
				cause[d] = from
				batch = append(batch, d)
			}
		}
		if len(batch) == 0 {
			return nil
		}
		if depth > e.cfg.MaxDepth {
			return fmt.Errorf("cascade from %v deeper than %d: %w", roots, e.cfg.MaxDepth, ErrPropagationLimit)
		}
		if evaluated += len(batch); evaluated > e.cfg.MaxNodes {
			return fmt.Errorf("cascade from %v reached more than %d tasks: %w", roots, e.cfg.MaxNodes, ErrPropagationLimit)
		}

		changed, err := e.settleBatch(ctx, tx, r, batch, cause)
		if err != nil {
			return err
		}
		frontier = changed
	}
	return nil
}

// settleBatch locks ids, derives their blocking state from one fetch of all
// their dependencies, and writes those whose status moves.
func (e *Engine) settleBatch(ctx context.Context, tx store.Tx, r *run, ids []int64, cause map[int64]int64) ([]int64, error) {
	sortIDs(ids)
	locked, err := tx.Tasks().Lock(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lock %v: %w", ids, err)
	}
	deps, err := tx.Edges().DependenciesOf(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("dependencies of %v: %w", ids, err)
	}
	var all []int64
	for _, ds := range deps {
		all = append(all, ds...)
	}
	statuses, err := tx.Tasks().Statuses(ctx, all)
	if err != nil {
		return nil, err
	}

	var changed []int64
	for _, id := range ids {
		t, ok := locked[id]
		if !ok || t.Trashed() {
			continue
		}
		moved, err := e.settleTo(ctx, tx, r, t, blockedBy(deps[id], statuses), cause[id])
		if err != nil {
			return nil, err
		}
		if moved != nil {
			changed = append(changed, id)
		}
	}
	return changed, nil
}

// settle re-derives the status of a single locked task.
func (e *Engine) settle(ctx context.Context, tx store.Tx, r *run, t *task.Task, cause int64) (*task.Task, error) {
	blocked, err := derive(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	moved, err := e.settleTo(ctx, tx, r, t, blocked, cause)
	if err != nil || moved == nil {
		return t, err
	}
	return moved, nil
}

// settleTo writes the settled status of t if it differs, attributing the
// transition to the cascade actor. It returns nil when nothing moved.
func (e *Engine) settleTo(ctx context.Context, tx store.Tx, r *run, t *task.Task, blocked bool, cause int64) (*task.Task, error) {
	want := status.Settle(t.Status, blocked)
	if want == t.Status {
		return nil, nil
	}
	updated, err := tx.Tasks().SetStatus(ctx, t.ID, want, t.Version)
	if err != nil {
		return nil, err
	}
	r.record(audit.Record{
		TaskID:      t.ID,
		Previous:    t.Status,
		New:         want,
		ActorID:     e.cfg.CascadeActorID,
		Cascade:     true,
		CauseTaskID: cause,
	})
	return updated, nil
}

// derive reports whether id has a live dependency that is not Completed.
func derive(ctx context.Context, tx store.Tx, id int64) (bool, error) {
	deps, err := tx.Edges().DependenciesOf(ctx, []int64{id})
	if err != nil {
		return false, fmt.Errorf("dependencies of %d: %w", id, err)
	}
	statuses, err := tx.Tasks().Statuses(ctx, deps[id])
	if err != nil {
		return false, err
	}
	return blockedBy(deps[id], statuses), nil
}

// blockedBy ignores dependencies missing from statuses, which are trashed.
func blockedBy(deps []int64, statuses map[int64]task.Status) bool {
	live := make([]task.Status, 0, len(deps))
	for _, d := range deps {
		if s, ok := statuses[d]; ok {
			live = append(live, s)
		}
	}
	return status.Derive(live)
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
