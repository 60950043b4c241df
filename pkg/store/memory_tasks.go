package store

import (
	"context"
	"fmt"
	"time"

	"taskgraph/pkg/task"
)

type memTasks struct{ st *memState }

func (s memTasks) EnsureTable(context.Context) error { return nil }

func (s memTasks) Create(_ context.Context, t *task.Task) (*task.Task, error) {
	s.st.nextTask++
	ts := now()
	cp := *t
	cp.ID = s.st.nextTask
	if cp.Status == "" {
		cp.Status = task.StatusOpen
	}
	cp.Version = 1
	cp.CreatedAt, cp.UpdatedAt = ts, ts
	cp.DeletedAt = nil
	s.st.tasks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s memTasks) live(id int64) (*task.Task, bool) {
	t, ok := s.st.tasks[id]
	if !ok || t.Trashed() {
		return nil, false
	}
	return t, true
}

func (s memTasks) Get(_ context.Context, id int64) (*task.Task, error) {
	t, ok := s.live(id)
	if !ok {
		return nil, fmt.Errorf("get task %d: %w", id, task.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s memTasks) GetAny(_ context.Context, id int64) (*task.Task, error) {
	t, ok := s.st.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %d: %w", id, task.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// Lock returns copies; the runner's write lock already excludes other writers.
func (s memTasks) Lock(_ context.Context, ids []int64) (map[int64]*task.Task, error) {
	out := make(map[int64]*task.Task, len(ids))
	for _, id := range ids {
		if t, ok := s.st.tasks[id]; ok {
			cp := *t
			out[id] = &cp
		}
	}
	return out, nil
}

func (s memTasks) Statuses(_ context.Context, ids []int64) (map[int64]task.Status, error) {
	out := make(map[int64]task.Status, len(ids))
	for _, id := range ids {
		if t, ok := s.live(id); ok {
			out[id] = t.Status
		}
	}
	return out, nil
}

func (s memTasks) Update(_ context.Context, id int64, updates map[string]any) (*task.Task, error) {
	t, ok := s.live(id)
	if !ok {
		return nil, fmt.Errorf("update task %d: %w", id, task.ErrNotFound)
	}
	for k, v := range updates {
		switch k {
		case "title":
			t.Title = v.(string)
		case "description":
			t.Description = v.(string)
		case "assigned_to":
			t.AssignedTo = v.(string)
		case "type":
			t.Type = task.Type(fmt.Sprint(v))
		case "priority":
			t.Priority = task.Priority(fmt.Sprint(v))
		case "due_date":
			switch d := v.(type) {
			case time.Time:
				t.DueDate = &d
			case *time.Time:
				t.DueDate = d
			}
		}
	}
	t.UpdatedAt = now()
	cp := *t
	return &cp, nil
}

func (s memTasks) SetStatus(_ context.Context, id int64, st task.Status, version int64) (*task.Task, error) {
	t, ok := s.st.tasks[id]
	if !ok || t.Version != version {
		return nil, fmt.Errorf("set status of task %d at version %d: %w", id, version, task.ErrStale)
	}
	t.Status = st
	t.Version++
	t.UpdatedAt = now()
	cp := *t
	return &cp, nil
}

func (s memTasks) List(_ context.Context, f task.Filter) (*task.Page, error) {
	return s.page(false, f), nil
}

func (s memTasks) Trashed(_ context.Context, f task.Filter) (*task.Page, error) {
	return s.page(true, f), nil
}

func (s memTasks) page(trashed bool, f task.Filter) *task.Page {
	f = f.Normalize()
	var ids []int64
	for id, t := range s.st.tasks {
		if t.Trashed() == trashed && s.matches(t, f) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)

	p := &task.Page{Tasks: []task.Task{}, Total: len(ids), Page: f.Page, PerPage: f.PerPage}
	for i := f.Offset(); i < len(ids) && len(p.Tasks) < f.PerPage; i++ {
		p.Tasks = append(p.Tasks, *s.st.tasks[ids[i]])
	}
	return p
}

func (s memTasks) matches(t *task.Task, f task.Filter) bool {
	switch {
	case f.Status != "" && t.Status != f.Status:
		return false
	case f.Priority != "" && t.Priority != f.Priority:
		return false
	case f.Type != "" && t.Type != f.Type:
		return false
	case f.AssignedTo != "" && t.AssignedTo != f.AssignedTo:
		return false
	case f.CreatedBy != "" && t.CreatedBy != f.CreatedBy:
		return false
	case f.DueDate != nil && (t.DueDate == nil || !task.SameDay(*t.DueDate, *f.DueDate)):
		return false
	case f.DependsOn != nil:
		if _, ok := s.st.edges[edgeKey{t.ID, *f.DependsOn}]; !ok {
			return false
		}
	}
	if f.NoDependents {
		for k := range s.st.edges {
			if k.dependsOnID == t.ID {
				return false
			}
		}
	}
	return true
}

func (s memTasks) CreatedOn(_ context.Context, day time.Time) ([]task.Task, error) {
	var ids []int64
	for id, t := range s.st.tasks {
		if !t.Trashed() && task.SameDay(t.CreatedAt, day) {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	out := make([]task.Task, len(ids))
	for i, id := range ids {
		out[i] = *s.st.tasks[id]
	}
	return out, nil
}

func (s memTasks) SoftDelete(_ context.Context, id int64) (*task.Task, error) {
	t, ok := s.live(id)
	if !ok {
		return nil, fmt.Errorf("soft delete task %d: %w", id, task.ErrNotFound)
	}
	ts := now()
	t.DeletedAt, t.UpdatedAt = &ts, ts
	cp := *t
	return &cp, nil
}

func (s memTasks) Restore(_ context.Context, id int64) (*task.Task, error) {
	t, ok := s.st.tasks[id]
	if !ok || !t.Trashed() {
		return nil, fmt.Errorf("restore task %d: %w", id, task.ErrNotFound)
	}
	t.DeletedAt, t.UpdatedAt = nil, now()
	cp := *t
	return &cp, nil
}

// Delete removes the task and, like the foreign key cascade, its edges.
func (s memTasks) Delete(_ context.Context, id int64) error {
	if _, ok := s.st.tasks[id]; !ok {
		return fmt.Errorf("delete task %d: %w", id, task.ErrNotFound)
	}
	delete(s.st.tasks, id)
	for k := range s.st.edges {
		if k.taskID == id || k.dependsOnID == id {
			delete(s.st.edges, k)
		}
	}
	return nil
}

func (s memTasks) Count(context.Context) (int, error) {
	n := 0
	for _, t := range s.st.tasks {
		if !t.Trashed() {
			n++
		}
	}
	return n, nil
}

func (s memTasks) CountByStatus(context.Context) (map[task.Status]int, error) {
	out := make(map[task.Status]int)
	for _, t := range s.st.tasks {
		if !t.Trashed() {
			out[t.Status]++
		}
	}
	return out, nil
}
