package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskgraph/pkg/audit"
	"taskgraph/pkg/task"
)

func newTask(title string) *task.Task {
	due := time.Now().AddDate(0, 0, 7)
	return &task.Task{Title: title, Description: "d", Type: task.TypeFeature, DueDate: &due, CreatedBy: "m1"}
}

func seed(t *testing.T, m *Memory, titles ...string) []*task.Task {
	t.Helper()
	var out []*task.Task
	err := m.InTx(context.Background(), func(tx Tx) error {
		for _, title := range titles {
			tk, err := tx.Tasks().Create(context.Background(), newTask(title))
			if err != nil {
				return err
			}
			out = append(out, tk)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestMemoryRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tasks := seed(t, m, "a", "b")

	boom := errors.New("boom")
	err := m.InTx(ctx, func(tx Tx) error {
		if _, err := tx.Tasks().SetStatus(ctx, tasks[0].ID, task.StatusCompleted, tasks[0].Version); err != nil {
			return err
		}
		if _, _, err := tx.Edges().Add(ctx, tasks[1].ID, tasks[0].ID, "m1"); err != nil {
			return err
		}
		if _, err := tx.Audit().Append(ctx, &audit.Record{TaskID: tasks[0].ID, Previous: task.StatusOpen, New: task.StatusCompleted}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	m.View(ctx, func(tx Tx) error {
		got, _ := tx.Tasks().Get(ctx, tasks[0].ID)
		if got.Status != task.StatusOpen || got.Version != 1 {
			t.Errorf("expected rollback to Open v1, got %s v%d", got.Status, got.Version)
		}
		if all, _ := tx.Edges().All(ctx); len(all) != 0 {
			t.Errorf("expected no edges after rollback, got %d", len(all))
		}
		if n, _ := tx.Audit().Count(ctx); n != 0 {
			t.Errorf("expected no audit records after rollback, got %d", n)
		}
		return nil
	})
}

func TestMemorySetStatusVersion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tk := seed(t, m, "a")[0]

	m.InTx(ctx, func(tx Tx) error {
		updated, err := tx.Tasks().SetStatus(ctx, tk.ID, task.StatusInProgress, tk.Version)
		if err != nil {
			t.Fatal(err)
		}
		if updated.Version != tk.Version+1 {
			t.Errorf("expected version bump, got %d", updated.Version)
		}
		if _, err := tx.Tasks().SetStatus(ctx, tk.ID, task.StatusOpen, tk.Version); !errors.Is(err, task.ErrStale) {
			t.Errorf("expected ErrStale, got %v", err)
		}
		return nil
	})
}

func TestMemoryListFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tasks := seed(t, m, "a", "b", "c", "d")
	a, b, c := tasks[0], tasks[1], tasks[2]

	m.InTx(ctx, func(tx Tx) error {
		tx.Edges().Add(ctx, b.ID, a.ID, "m1")
		tx.Edges().Add(ctx, c.ID, a.ID, "m1")
		tx.Tasks().Update(ctx, c.ID, map[string]any{"assigned_to": "dev1", "priority": "High"})
		_, err := tx.Tasks().SoftDelete(ctx, tasks[3].ID)
		return err
	})

	m.View(ctx, func(tx Tx) error {
		ts := tx.Tasks()
		page, _ := ts.List(ctx, task.Filter{DependsOn: &a.ID})
		if page.Total != 2 {
			t.Errorf("expected 2 dependents of a, got %d", page.Total)
		}
		page, _ = ts.List(ctx, task.Filter{NoDependents: true})
		if page.Total != 2 {
			t.Errorf("expected b and c to have no dependents, got %d", page.Total)
		}
		page, _ = ts.List(ctx, task.Filter{AssignedTo: "dev1", Priority: task.PriorityHigh})
		if page.Total != 1 || page.Tasks[0].ID != c.ID {
			t.Errorf("expected only c, got %+v", page.Tasks)
		}
		page, _ = ts.List(ctx, task.Filter{PerPage: 2, Page: 2})
		if page.Total != 3 || len(page.Tasks) != 1 || page.Tasks[0].ID != c.ID {
			t.Errorf("expected page 2 = [c] of 3, got total=%d %+v", page.Total, page.Tasks)
		}
		trashed, _ := ts.Trashed(ctx, task.Filter{})
		if trashed.Total != 1 {
			t.Errorf("expected 1 trashed, got %d", trashed.Total)
		}
		if _, err := ts.Get(ctx, tasks[3].ID); !errors.Is(err, task.ErrNotFound) {
			t.Errorf("trashed task should be invisible to Get, got %v", err)
		}
		if _, err := ts.GetAny(ctx, tasks[3].ID); err != nil {
			t.Errorf("GetAny should see trashed task: %v", err)
		}
		statuses, _ := ts.Statuses(ctx, []int64{a.ID, tasks[3].ID})
		if _, ok := statuses[tasks[3].ID]; ok || len(statuses) != 1 {
			t.Errorf("expected only live statuses, got %v", statuses)
		}
		return nil
	})
}

func TestMemoryDeleteCascadesEdges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tasks := seed(t, m, "a", "b")

	m.InTx(ctx, func(tx Tx) error {
		tx.Edges().Add(ctx, tasks[1].ID, tasks[0].ID, "m1")
		return tx.Tasks().Delete(ctx, tasks[0].ID)
	})
	m.View(ctx, func(tx Tx) error {
		deps, _ := tx.Edges().DependenciesOf(ctx, []int64{tasks[1].ID})
		if len(deps[tasks[1].ID]) != 0 {
			t.Errorf("expected edge removed with task, got %v", deps)
		}
		return nil
	})
}

func TestMemoryEdges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	tasks := seed(t, m, "a", "b", "c")
	a, b, c := tasks[0].ID, tasks[1].ID, tasks[2].ID

	m.InTx(ctx, func(tx Tx) error {
		es := tx.Edges()
		if _, created, _ := es.Add(ctx, a, b, "m1"); !created {
			t.Error("expected new edge")
		}
		if _, created, _ := es.Add(ctx, a, b, "m1"); created {
			t.Error("expected existing edge")
		}
		es.Add(ctx, b, c, "m1")
		if _, _, err := es.Add(ctx, a, 999, "m1"); err == nil {
			t.Error("expected error for unknown task")
		}

		if ok, _ := es.Reachable(ctx, a, c); !ok {
			t.Error("expected c reachable from a")
		}
		dependents, _ := es.DependentsOf(ctx, []int64{b, c})
		if len(dependents[b]) != 1 || dependents[b][0] != a || dependents[c][0] != b {
			t.Errorf("unexpected reverse adjacency %v", dependents)
		}
		if removed, _ := es.Remove(ctx, a, b); !removed {
			t.Error("expected edge removed")
		}
		if removed, _ := es.Remove(ctx, a, b); removed {
			t.Error("expected nothing to remove")
		}
		if n, _ := es.RemoveAll(ctx, c); n != 1 {
			t.Errorf("expected 1 edge removed, got %d", n)
		}
		return nil
	})
}

func TestMemoryAuditChain(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.InTx(ctx, func(tx Tx) error {
		for i := int64(1); i <= 3; i++ {
			tx.Audit().Append(ctx, &audit.Record{TaskID: i % 2, Previous: task.StatusOpen, New: task.StatusBlocked, RunID: "r"})
		}
		return nil
	})
	m.View(ctx, func(tx Tx) error {
		if err := tx.Audit().VerifyChain(ctx); err != nil {
			t.Errorf("unexpected chain error: %v", err)
		}
		recs, _ := tx.Audit().ByTask(ctx, 1, 10)
		if len(recs) != 2 || recs[0].Seq != 3 {
			t.Errorf("expected 2 records newest first, got %+v", recs)
		}
		run, _ := tx.Audit().ByRun(ctx, "r")
		if len(run) != 3 || run[0].Seq != 1 {
			t.Errorf("expected 3 records in order, got %d", len(run))
		}
		return nil
	})
}

func TestConflictPassthrough(t *testing.T) {
	if conflict(nil) != nil {
		t.Error("nil stays nil")
	}
	plain := errors.New("plain")
	if errors.Is(conflict(plain), ErrConflict) {
		t.Error("non-database errors are not conflicts")
	}
}
