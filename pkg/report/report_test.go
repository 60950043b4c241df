package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskgraph/pkg/cache"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

func seed(t *testing.T, mem *store.Memory, tasks ...task.Task) {
	t.Helper()
	err := mem.InTx(context.Background(), func(tx store.Tx) error {
		for i := range tasks {
			if _, err := tx.Tasks().Create(context.Background(), &tasks[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDaily(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	coord := cache.NewCoordinator(cache.NewMemory(), cache.DefaultTTLs)
	r := New(mem, coord)
	seed(t, mem,
		task.Task{Title: "a", Type: task.TypeBug, AssignedTo: "dev"},
		task.Task{Title: "b", Type: task.TypeFeature},
		task.Task{Title: "c", Type: task.TypeBug, Status: task.StatusCompleted},
	)

	d, err := r.Daily(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if d.Total != 3 || d.ByType[task.TypeBug] != 2 || d.ByStatus[task.StatusOpen] != 2 || d.Unassigned != 2 {
		t.Errorf("unexpected report %+v", d)
	}

	seed(t, mem, task.Task{Title: "d", Type: task.TypeImprovement})
	d, _ = r.Daily(ctx, time.Now())
	if d.Total != 3 {
		t.Errorf("expected cached total 3, got %d", d.Total)
	}
	if coord.Stats().Hits != 1 {
		t.Errorf("expected one cache hit, got %+v", coord.Stats())
	}

	if err := coord.InvalidatePattern(ctx); err != nil {
		t.Fatal(err)
	}
	d, _ = r.Daily(ctx, time.Now())
	if d.Total != 4 {
		t.Errorf("expected 4 after invalidation, got %d", d.Total)
	}
}

func TestDailyOtherDay(t *testing.T) {
	mem := store.NewMemory()
	seed(t, mem, task.Task{Title: "a", Type: task.TypeBug})
	d, err := New(mem, cache.NewCoordinator(cache.NewMemory(), cache.DefaultTTLs)).Daily(context.Background(), time.Now().AddDate(0, 0, -2))
	if err != nil {
		t.Fatal(err)
	}
	if d.Total != 0 || len(d.Tasks) != 0 {
		t.Errorf("expected empty report, got %+v", d)
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2026-03-14")
	if err != nil || d.Format(time.DateOnly) != "2026-03-14" {
		t.Fatalf("expected 2026-03-14, got %v, %v", d, err)
	}
	if _, err := ParseDay("14/03/2026"); !errors.Is(err, task.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if d, _ := ParseDay(""); !task.SameDay(d, time.Now()) {
		t.Errorf("empty date should be today, got %v", d)
	}
}
