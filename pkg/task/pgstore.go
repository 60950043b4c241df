package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taskgraph/internal/db"
)

const taskColumns = `id, title, description, type, status, priority, due_date, created_by, assigned_to, version, created_at, updated_at, deleted_at`

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	db db.DBTX
}

// NewPgStore creates a PgStore. q may be a pool or a transaction.
func NewPgStore(q db.DBTX) *PgStore {
	return &PgStore{db: q}
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id          BIGSERIAL PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type        TEXT NOT NULL CHECK (type IN ('Bug', 'Feature', 'Improvement')),
			status      TEXT NOT NULL DEFAULT 'Open' CHECK (status IN ('Open', 'In_Progress', 'Completed', 'Blocked')),
			priority    TEXT NOT NULL DEFAULT '' CHECK (priority IN ('', 'Low', 'Medium', 'High')),
			due_date    TIMESTAMPTZ,
			created_by  TEXT NOT NULL,
			assigned_to TEXT NOT NULL DEFAULT '',
			version     BIGINT NOT NULL DEFAULT 1,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at  TIMESTAMPTZ
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status) WHERE deleted_at IS NULL`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_created_by ON tasks(created_by)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to) WHERE assigned_to != ''`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`)
	return err
}

// Create inserts a new task. Status defaults to Open.
func (s *PgStore) Create(ctx context.Context, t *Task) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	if t.Status == "" {
		t.Status = StatusOpen
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tasks (title, description, type, status, priority, due_date, created_by, assigned_to, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
		RETURNING `+taskColumns,
		t.Title, t.Description, t.Type, t.Status, t.Priority, t.DueDate, t.CreatedBy, t.AssignedTo, now)
	created, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

// Get retrieves a live task by ID.
func (s *PgStore) Get(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, notFound("get", id, err)
	}
	return t, nil
}

// GetAny retrieves a task by ID whether or not it is trashed.
func (s *PgStore) GetAny(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get", id, err)
	}
	return t, nil
}

// Lock selects the rows FOR UPDATE in id order so concurrent lockers of
// overlapping sets acquire them in the same sequence.
func (s *PgStore) Lock(ctx context.Context, ids []int64) (map[int64]*Task, error) {
	out := make(map[int64]*Task, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock tasks: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, fmt.Errorf("lock tasks: %w", err)
	}
	for i := range tasks {
		out[tasks[i].ID] = &tasks[i]
	}
	return out, nil
}

// Statuses returns the status of each live task in ids.
func (s *PgStore) Statuses(ctx context.Context, ids []int64) (map[int64]Status, error) {
	out := make(map[int64]Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, status FROM tasks WHERE id = ANY($1) AND deleted_at IS NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("task statuses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var st Status
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

// Update modifies non-status fields of a live task.
func (s *PgStore) Update(ctx context.Context, id int64, updates map[string]any) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)

	setClauses := "updated_at = $1"
	args := []any{now}
	argIdx := 2

	for k, v := range updates {
		switch k {
		case "title", "description", "type", "priority", "due_date", "assigned_to":
			setClauses += fmt.Sprintf(", %s = $%d", k, argIdx)
			args = append(args, toColumn(v))
			argIdx++
		}
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s WHERE id = $%d AND deleted_at IS NULL RETURNING %s", setClauses, argIdx, taskColumns)
	t, err := scanTask(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, notFound("update", id, err)
	}
	return t, nil
}

// SetStatus writes status when the row is still at version.
func (s *PgStore) SetStatus(ctx context.Context, id int64, status Status, version int64) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	t, err := scanTask(s.db.QueryRow(ctx, `
		UPDATE tasks SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
		RETURNING `+taskColumns, status, now, id, version))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, fmt.Errorf("set status of task %d at version %d: %w", id, version, ErrStale)
		}
		return nil, fmt.Errorf("set status of task %d: %w", id, err)
	}
	return t, nil
}

// List returns live tasks matching f, ordered by id.
func (s *PgStore) List(ctx context.Context, f Filter) (*Page, error) {
	return s.page(ctx, "deleted_at IS NULL", f)
}

// Trashed returns soft-deleted tasks matching f, ordered by id.
func (s *PgStore) Trashed(ctx context.Context, f Filter) (*Page, error) {
	return s.page(ctx, "deleted_at IS NOT NULL", f)
}

func (s *PgStore) page(ctx context.Context, base string, f Filter) (*Page, error) {
	f = f.Normalize()
	where, args := buildWhere(base, f)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	args = append(args, f.PerPage, f.Offset())
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY id ASC LIMIT $%d OFFSET $%d`,
		taskColumns, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return &Page{Tasks: tasks, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// buildWhere renders f as a WHERE clause with positional arguments.
func buildWhere(base string, f Filter) (string, []any) {
	conds := []string{base}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Priority != "" {
		add("priority = $%d", f.Priority)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.AssignedTo != "" {
		add("assigned_to = $%d", f.AssignedTo)
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}
	if f.DueDate != nil {
		add("(due_date AT TIME ZONE 'UTC')::date = $%d::date", f.DueDate.UTC().Format(time.DateOnly))
	}
	if f.DependsOn != nil {
		add("id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = $%d)", *f.DependsOn)
	}
	if f.NoDependents {
		conds = append(conds, "NOT EXISTS (SELECT 1 FROM task_dependencies d WHERE d.depends_on_id = tasks.id)")
	}
	return strings.Join(conds, " AND "), args
}

// CreatedOn returns live tasks created on the UTC calendar day of day.
func (s *PgStore) CreatedOn(ctx context.Context, day time.Time) ([]Task, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE created_at >= $1 AND created_at < $2 AND deleted_at IS NULL
		ORDER BY id ASC`, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("tasks created on %s: %w", start.Format(time.DateOnly), err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// SoftDelete marks a live task as deleted.
func (s *PgStore) SoftDelete(ctx context.Context, id int64) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	t, err := scanTask(s.db.QueryRow(ctx, `
		UPDATE tasks SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL
		RETURNING `+taskColumns, now, id))
	if err != nil {
		return nil, notFound("soft delete", id, err)
	}
	return t, nil
}

// Restore clears the deletion marker of a trashed task.
func (s *PgStore) Restore(ctx context.Context, id int64) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	t, err := scanTask(s.db.QueryRow(ctx, `
		UPDATE tasks SET deleted_at = NULL, updated_at = $1
		WHERE id = $2 AND deleted_at IS NOT NULL
		RETURNING `+taskColumns, now, id))
	if err != nil {
		return nil, notFound("restore", id, err)
	}
	return t, nil
}

// Delete removes the row permanently.
func (s *PgStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete task %d: %w", id, ErrNotFound)
	}
	return nil
}

// Count returns the number of live tasks.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

// CountByStatus returns live task counts keyed by status.
func (s *PgStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM tasks WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func notFound(op string, id int64, err error) error {
	if db.IsNoRows(err) {
		return fmt.Errorf("%s task %d: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("%s task %d: %w", op, id, err)
}

// toColumn unwraps typed enums and time pointers into driver-friendly values.
func toColumn(v any) any {
	switch x := v.(type) {
	case Type:
		return string(x)
	case Priority:
		return string(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Type, &t.Status, &t.Priority, &t.DueDate,
		&t.CreatedBy, &t.AssignedTo, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTaskRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}
