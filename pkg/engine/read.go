package engine

import (
	"context"
	"fmt"

	"taskgraph/pkg/audit"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/cache"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// TaskView is the single-task projection.
type TaskView struct {
	Task task.Task `json:"task"`
	// Edges are the task's own dependencies.
	Edges      []dependency.Edge `json:"dependencies"`
	Dependents []int64           `json:"dependents"`
}

// GetTask returns the single view of a live task. The view is cached per
// task and authorized per call.
func (e *Engine) GetTask(ctx context.Context, actorID string, taskID int64) (*TaskView, error) {
	view, err := cache.GetOrCompute(ctx, e.cache, cache.TaskKey(taskID), func(ctx context.Context) (*TaskView, error) {
		v := &TaskView{Edges: []dependency.Edge{}, Dependents: []int64{}}
		err := e.runner.View(ctx, func(tx store.Tx) error {
			t, err := tx.Tasks().Get(ctx, taskID)
			if err != nil {
				return err
			}
			v.Task = *t
			edges, err := tx.Edges().Edges(ctx, taskID)
			if err != nil {
				return err
			}
			if edges != nil {
				v.Edges = edges
			}
			dependents, err := tx.Edges().DependentsOf(ctx, []int64{taskID})
			if err != nil {
				return err
			}
			if d := dependents[taskID]; d != nil {
				v.Dependents = d
			}
			return nil
		})
		return v, err
	})
	if err != nil {
		return nil, err
	}
	if err := e.guard.Allow(ctx, actorID, authz.CanView, &view.Task); err != nil {
		return nil, err
	}
	return view, nil
}

// ListTasks returns live tasks matching f within the actor's scope.
func (e *Engine) ListTasks(ctx context.Context, actorID string, f task.Filter) (*task.Page, error) {
	if err := e.guard.Require(ctx, actorID, authz.CanView); err != nil {
		return nil, err
	}
	scope, err := e.guard.Scope(ctx, actorID)
	if err != nil {
		return nil, err
	}
	f = scope.Apply(f).Normalize()
	owner, label := scopeKey(scope)
	return cache.GetOrCompute(ctx, e.cache, cache.ListKey(owner, label, f), func(ctx context.Context) (*task.Page, error) {
		return e.list(ctx, f, false)
	})
}

// MyTasks returns live tasks assigned to the actor.
func (e *Engine) MyTasks(ctx context.Context, actorID string, f task.Filter) (*task.Page, error) {
	if err := e.guard.Require(ctx, actorID, authz.CanView); err != nil {
		return nil, err
	}
	f.AssignedTo = actorID
	f = f.Normalize()
	return cache.GetOrCompute(ctx, e.cache, cache.MineKey(actorID, f), func(ctx context.Context) (*task.Page, error) {
		return e.list(ctx, f, false)
	})
}

// TrashedTasks returns soft-deleted tasks within the actor's scope.
func (e *Engine) TrashedTasks(ctx context.Context, actorID string, f task.Filter) (*task.Page, error) {
	if err := e.guard.Require(ctx, actorID, authz.CanViewTrashed); err != nil {
		return nil, err
	}
	scope, err := e.guard.Scope(ctx, actorID)
	if err != nil {
		return nil, err
	}
	f = scope.Apply(f).Normalize()
	owner, label := scopeKey(scope)
	return cache.GetOrCompute(ctx, e.cache, cache.TrashedKey(label, owner, f), func(ctx context.Context) (*task.Page, error) {
		return e.list(ctx, f, true)
	})
}

func (e *Engine) list(ctx context.Context, f task.Filter, trashed bool) (*task.Page, error) {
	var page *task.Page
	err := e.runner.View(ctx, func(tx store.Tx) error {
		var err error
		if trashed {
			page, err = tx.Tasks().Trashed(ctx, f)
		} else {
			page, err = tx.Tasks().List(ctx, f)
		}
		return err
	})
	return page, err
}

// scopeKey names a scope for cache keys. Unscoped listings are shared.
func scopeKey(s authz.Scope) (owner, label string) {
	switch {
	case s.CreatedBy != "":
		return s.CreatedBy, "created"
	case s.AssignedTo != "":
		return s.AssignedTo, "assigned"
	}
	return "", "all"
}

// History returns the transition records of a task, newest first.
func (e *Engine) History(ctx context.Context, actorID string, taskID int64, limit int) ([]audit.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var recs []audit.Record
	err := e.runner.View(ctx, func(tx store.Tx) error {
		t, err := tx.Tasks().GetAny(ctx, taskID)
		if err != nil {
			return err
		}
		if err := e.guard.Allow(ctx, actorID, authz.CanView, t); err != nil {
			return err
		}
		recs, err = tx.Audit().ByTask(ctx, taskID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	return recs, nil
}

// VerifyAudit checks the whole transition log's hash chain.
func (e *Engine) VerifyAudit(ctx context.Context) error {
	return e.runner.View(ctx, func(tx store.Tx) error {
		return tx.Audit().VerifyChain(ctx)
	})
}

// Stats summarizes the store and cache.
type Stats struct {
	Tasks    int                 `json:"tasks"`
	ByStatus map[task.Status]int `json:"by_status"`
	Records  int                 `json:"transition_records"`
	Cache    cache.Stats         `json:"cache"`
}

// Stats returns current counts.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{Cache: e.cache.Stats()}
	err := e.runner.View(ctx, func(tx store.Tx) error {
		var err error
		if s.Tasks, err = tx.Tasks().Count(ctx); err != nil {
			return err
		}
		if s.ByStatus, err = tx.Tasks().CountByStatus(ctx); err != nil {
			return err
		}
		s.Records, err = tx.Audit().Count(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}
