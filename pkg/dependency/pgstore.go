package dependency

import (
	"context"
	"fmt"
	"time"

	"taskgraph/internal/db"
)

// graphLockKey serializes edge inserts across transactions.
const graphLockKey = 7_301_002

// PgStore is a PostgreSQL-backed edge store.
type PgStore struct {
	db db.DBTX
}

// NewPgStore creates a PgStore. q may be a pool or a transaction.
func NewPgStore(q db.DBTX) *PgStore {
	return &PgStore{db: q}
}

// EnsureTable creates the task_dependencies table. It references tasks, so
// the tasks table must exist first.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_dependencies (
			id            BIGSERIAL PRIMARY KEY,
			task_id       BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			depends_on_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			created_by    TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (task_id <> depends_on_id),
			UNIQUE (task_id, depends_on_id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_id)`)
	return err
}

// Add inserts the edge or returns the existing one.
func (s *PgStore) Add(ctx context.Context, taskID, dependsOnID int64, createdBy string) (*Edge, bool, error) {
	now := time.Now().Truncate(time.Microsecond)
	var e Edge
	err := s.db.QueryRow(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_id, created_by, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id, depends_on_id) DO NOTHING
		RETURNING id, task_id, depends_on_id, created_by, created_at`,
		taskID, dependsOnID, createdBy, now).
		Scan(&e.ID, &e.TaskID, &e.DependsOnID, &e.CreatedBy, &e.CreatedAt)
	if err == nil {
		return &e, true, nil
	}
	if !db.IsNoRows(err) {
		return nil, false, fmt.Errorf("add dependency %d -> %d: %w", taskID, dependsOnID, err)
	}

	// ON CONFLICT DO NOTHING returns no row; fetch the existing edge.
	err = s.db.QueryRow(ctx, `
		SELECT id, task_id, depends_on_id, created_by, created_at
		FROM task_dependencies WHERE task_id = $1 AND depends_on_id = $2`, taskID, dependsOnID).
		Scan(&e.ID, &e.TaskID, &e.DependsOnID, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("add dependency %d -> %d: re-fetch failed: %w", taskID, dependsOnID, err)
	}
	return &e, false, nil
}

// Remove deletes one edge.
func (s *PgStore) Remove(ctx context.Context, taskID, dependsOnID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM task_dependencies WHERE task_id = $1 AND depends_on_id = $2`, taskID, dependsOnID)
	if err != nil {
		return false, fmt.Errorf("remove dependency %d -> %d: %w", taskID, dependsOnID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveAll deletes every edge touching taskID.
func (s *PgStore) RemoveAll(ctx context.Context, taskID int64) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM task_dependencies WHERE task_id = $1 OR depends_on_id = $1`, taskID)
	if err != nil {
		return 0, fmt.Errorf("remove dependencies of %d: %w", taskID, err)
	}
	return int(tag.RowsAffected()), nil
}

// DependenciesOf fetches the forward adjacency of ids in one query.
func (s *PgStore) DependenciesOf(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	return s.adjacency(ctx, `
		SELECT task_id, depends_on_id FROM task_dependencies
		WHERE task_id = ANY($1) ORDER BY task_id, depends_on_id`, ids)
}

// DependentsOf fetches the reverse adjacency of ids in one query.
func (s *PgStore) DependentsOf(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	return s.adjacency(ctx, `
		SELECT depends_on_id, task_id FROM task_dependencies
		WHERE depends_on_id = ANY($1) ORDER BY depends_on_id, task_id`, ids)
}

func (s *PgStore) adjacency(ctx context.Context, query string, ids []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("adjacency: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, val int64
		if err := rows.Scan(&key, &val); err != nil {
			return nil, err
		}
		out[key] = append(out[key], val)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

// Edges returns the outgoing edges of taskID.
func (s *PgStore) Edges(ctx context.Context, taskID int64) ([]Edge, error) {
	return s.scanMany(ctx, `
		SELECT id, task_id, depends_on_id, created_by, created_at
		FROM task_dependencies WHERE task_id = $1 ORDER BY depends_on_id`, taskID)
}

// All returns every edge.
func (s *PgStore) All(ctx context.Context) ([]Edge, error) {
	return s.scanMany(ctx, `
		SELECT id, task_id, depends_on_id, created_by, created_at
		FROM task_dependencies ORDER BY task_id, depends_on_id`)
}

// Reachable walks depends-on edges from from with a recursive CTE and
// reports whether to appears on any path. UNION deduplicates node ids, so
// the walk ends on cyclic data too.
func (s *PgStore) Reachable(ctx context.Context, from, to int64) (bool, error) {
	if from == to {
		return true, nil
	}
	var found bool
	err := s.db.QueryRow(ctx, `
		WITH RECURSIVE reach(id) AS (
			SELECT depends_on_id
			FROM task_dependencies
			WHERE task_id = $1

			UNION

			SELECT d.depends_on_id
			FROM task_dependencies d
			JOIN reach r ON d.task_id = r.id
		)
		SELECT EXISTS(SELECT 1 FROM reach WHERE id = $2)`,
		from, to).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("reachable %d -> %d: %w", from, to, err)
	}
	return found, nil
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.TaskID, &e.DependsOnID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return edges, nil
}

// LockGraph takes the graph advisory lock until the transaction ends.
func (s *PgStore) LockGraph(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, graphLockKey); err != nil {
		return fmt.Errorf("lock dependency graph: %w", err)
	}
	return nil
}
