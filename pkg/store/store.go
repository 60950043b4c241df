// Package store binds the task, dependency and audit stores to one unit of
// work so a status change and its cascade commit or roll back together.
package store

import (
	"context"
	"errors"

	"taskgraph/pkg/audit"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/task"
)

// ErrConflict is returned when a transaction lost a race for a row lock or
// a serializable snapshot. The whole unit of work may be retried.
var ErrConflict = errors.New("concurrency conflict")

// Tx exposes the stores bound to one transaction.
type Tx interface {
	Tasks() task.Store
	Edges() dependency.Store
	Audit() audit.Store
}

// Runner executes units of work.
type Runner interface {
	// InTx runs fn in a transaction. A nil return commits; any error
	// rolls back every write fn made.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// View runs read-only fn without a transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	// EnsureSchema creates the tables in dependency order.
	EnsureSchema(ctx context.Context) error
}

func ensureSchema(ctx context.Context, tx Tx) error {
	if err := tx.Tasks().EnsureTable(ctx); err != nil {
		return err
	}
	if err := tx.Edges().EnsureTable(ctx); err != nil {
		return err
	}
	return tx.Audit().EnsureTable(ctx)
}
