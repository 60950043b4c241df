package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskgraph/internal/db"
)

const actorColumns = `id, type, name, email, role, created_at`

// PgStore is a PostgreSQL-backed actor store.
type PgStore struct {
	db db.DBTX
}

// NewPgStore creates a PgStore.
func NewPgStore(q db.DBTX) *PgStore {
	return &PgStore{db: q}
}

// EnsureTable creates the actors table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS actors (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			name       TEXT NOT NULL,
			email      TEXT,
			role       TEXT NOT NULL CHECK (role IN ('admin', 'manager', 'developer', 'system')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS actors_type_name_idx ON actors(type, name)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS actors_email_idx ON actors(email) WHERE email IS NOT NULL`)
	return err
}

// Register creates or returns an existing actor. Idempotent.
func (s *PgStore) Register(ctx context.Context, actorType, name, email string, role Role) (*Actor, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("register actor %s/%s: invalid role %q", actorType, name, role)
	}
	if email != "" {
		a, err := s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE email = $1`, email)
		if err == nil {
			return a, nil
		}
	}

	a, err := s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE type = $1 AND name = $2`, actorType, name)
	if err == nil {
		return a, nil
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().Truncate(time.Microsecond)
	_, err = s.db.Exec(ctx, `
		INSERT INTO actors (id, type, name, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		id, actorType, name, nilIfEmpty(email), role, now)
	if err != nil {
		return nil, fmt.Errorf("register actor %s/%s: %w", actorType, name, err)
	}

	// Re-fetch: a concurrent Register may have won the insert.
	a, err = s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE type = $1 AND name = $2`, actorType, name)
	if err != nil {
		return nil, fmt.Errorf("register actor %s/%s: re-fetch failed: %w", actorType, name, err)
	}
	return a, nil
}

// Get returns an actor by ID.
func (s *PgStore) Get(ctx context.Context, id string) (*Actor, error) {
	a, err := s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE id = $1`, id)
	if err != nil {
		return nil, notFound("get actor "+id, err)
	}
	return a, nil
}

// ByName returns an actor by name.
func (s *PgStore) ByName(ctx context.Context, name string) (*Actor, error) {
	a, err := s.scanOne(ctx, `SELECT `+actorColumns+` FROM actors WHERE name = $1 ORDER BY created_at LIMIT 1`, name)
	if err != nil {
		return nil, notFound("actor by name "+name, err)
	}
	return a, nil
}

// List returns all actors.
func (s *PgStore) List(ctx context.Context) ([]Actor, error) {
	rows, err := s.db.Query(ctx, `SELECT `+actorColumns+` FROM actors ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	defer rows.Close()

	var actors []Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}

// SetRole replaces the role of an actor.
func (s *PgStore) SetRole(ctx context.Context, id string, role Role) (*Actor, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("set role of actor %s: invalid role %q", id, role)
	}
	a, err := s.scanOne(ctx, `UPDATE actors SET role = $1 WHERE id = $2 RETURNING `+actorColumns, role, id)
	if err != nil {
		return nil, notFound("set role of actor "+id, err)
	}
	return a, nil
}

func (s *PgStore) scanOne(ctx context.Context, query string, args ...any) (*Actor, error) {
	return scanActor(s.db.QueryRow(ctx, query, args...))
}

func scanActor(row interface{ Scan(dest ...any) error }) (*Actor, error) {
	var a Actor
	var email *string
	if err := row.Scan(&a.ID, &a.Type, &a.Name, &email, &a.Role, &a.CreatedAt); err != nil {
		return nil, err
	}
	if email != nil {
		a.Email = *email
	}
	return &a, nil
}

func notFound(op string, err error) error {
	if db.IsNoRows(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
