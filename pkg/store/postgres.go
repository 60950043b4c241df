package store

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskgraph/internal/db"
	"taskgraph/pkg/audit"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/task"
)

// pgTx binds the PgStores to one querier.
type pgTx struct {
	tasks *task.PgStore
	edges *dependency.PgStore
	audit *audit.PgStore
}

func newPgTx(q db.DBTX) *pgTx {
	return &pgTx{
		tasks: task.NewPgStore(q),
		edges: dependency.NewPgStore(q),
		audit: audit.NewPgStore(q),
	}
}

func (t *pgTx) Tasks() task.Store       { return t.tasks }
func (t *pgTx) Edges() dependency.Store { return t.edges }
func (t *pgTx) Audit() audit.Store      { return t.audit }

// Postgres runs units of work in pgx transactions.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres runner over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken by
// task.Store.Lock hold until commit.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", conflict(err))
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Printf("store: rollback: %v", rbErr)
		}
	}()

	if err := fn(newPgTx(tx)); err != nil {
		return conflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", conflict(err))
	}
	return nil
}

// View runs fn against the pool.
func (p *Postgres) View(ctx context.Context, fn func(tx Tx) error) error {
	return conflict(fn(newPgTx(p.pool)))
}

// EnsureSchema creates all tables.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return ensureSchema(ctx, newPgTx(p.pool))
}

// conflict tags retryable database errors with ErrConflict.
func conflict(err error) error {
	if err != nil && db.IsConflict(err) && !errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
