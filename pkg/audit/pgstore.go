package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskgraph/internal/db"
)

// chainLockKey serializes appends so concurrent transactions cannot fork the chain.
const chainLockKey = 7_301_001

const recordColumns = `seq, id, task_id, previous_status, new_status, requested_status, actor_id, cascade, cause_task_id, run_id, created_at, hash, prev_hash`

// PgStore is a PostgreSQL-backed audit store with hash-chained integrity.
type PgStore struct {
	db db.DBTX
}

// NewPgStore creates a PgStore. Append requires q to be a transaction.
func NewPgStore(q db.DBTX) *PgStore {
	return &PgStore{db: q}
}

// EnsureTable creates the task_status_updates table. Records carry no
// foreign key so they outlive hard-deleted tasks.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_status_updates (
			seq              BIGSERIAL UNIQUE,
			id               TEXT PRIMARY KEY,
			task_id          BIGINT NOT NULL,
			previous_status  TEXT NOT NULL CHECK (previous_status IN ('Open', 'In_Progress', 'Completed', 'Blocked')),
			new_status       TEXT NOT NULL CHECK (new_status IN ('Open', 'In_Progress', 'Completed', 'Blocked')),
			requested_status TEXT NOT NULL DEFAULT '' CHECK (requested_status IN ('', 'Open', 'In_Progress', 'Completed', 'Blocked')),
			actor_id         TEXT NOT NULL,
			cascade          BOOLEAN NOT NULL DEFAULT false,
			cause_task_id    BIGINT NOT NULL DEFAULT 0,
			run_id           TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			hash             TEXT NOT NULL,
			prev_hash        TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_task_status_updates_task ON task_status_updates(task_id, seq)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_task_status_updates_run ON task_status_updates(run_id)`)
	return err
}

// Append stores r at the head of the chain.
func (s *PgStore) Append(ctx context.Context, r *Record) (*Record, error) {
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return nil, fmt.Errorf("lock audit chain: %w", err)
	}

	var prevHash string
	err := s.db.QueryRow(ctx, `SELECT hash FROM task_status_updates ORDER BY seq DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !db.IsNoRows(err) {
		return nil, fmt.Errorf("read audit head: %w", err)
	}

	out := *r
	Seal(&out, uuid.Must(uuid.NewV7()).String(), time.Now().Truncate(time.Microsecond), prevHash)

	err = s.db.QueryRow(ctx, `
		INSERT INTO task_status_updates (id, task_id, previous_status, new_status, requested_status, actor_id, cascade, cause_task_id, run_id, created_at, hash, prev_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq`,
		out.ID, out.TaskID, out.Previous, out.New, out.Requested, out.ActorID, out.Cascade,
		out.CauseTaskID, out.RunID, out.Timestamp, out.Hash, out.PrevHash).Scan(&out.Seq)
	if err != nil {
		return nil, fmt.Errorf("insert audit record for task %d: %w", r.TaskID, err)
	}
	return &out, nil
}

// ByTask returns the records of one task, newest first.
func (s *PgStore) ByTask(ctx context.Context, taskID int64, limit int) ([]Record, error) {
	return s.scanMany(ctx, `SELECT `+recordColumns+` FROM task_status_updates WHERE task_id = $1 ORDER BY seq DESC LIMIT $2`, taskID, limit)
}

// ByRun returns the records of one request in append order.
func (s *PgStore) ByRun(ctx context.Context, runID string) ([]Record, error) {
	return s.scanMany(ctx, `SELECT `+recordColumns+` FROM task_status_updates WHERE run_id = $1 ORDER BY seq ASC`, runID)
}

// Recent returns the newest records.
func (s *PgStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.scanMany(ctx, `SELECT `+recordColumns+` FROM task_status_updates ORDER BY seq DESC LIMIT $1`, limit)
}

// Count returns the total number of records.
func (s *PgStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM task_status_updates`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit records: %w", err)
	}
	return n, nil
}

// VerifyChain walks the whole log in append order.
func (s *PgStore) VerifyChain(ctx context.Context) error {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM task_status_updates ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("verify chain query: %w", err)
	}
	defer rows.Close()

	var v Verifier
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("verify chain scan: %w", err)
		}
		if err := v.Next(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("verify chain rows: %w", err)
	}
	return nil
}

func (s *PgStore) scanMany(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return out, nil
}

func scanRecord(row interface{ Scan(dest ...any) error }) (*Record, error) {
	var r Record
	err := row.Scan(&r.Seq, &r.ID, &r.TaskID, &r.Previous, &r.New, &r.Requested, &r.ActorID,
		&r.Cascade, &r.CauseTaskID, &r.RunID, &r.Timestamp, &r.Hash, &r.PrevHash)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
