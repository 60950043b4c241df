// Package engine applies task mutations: it authorizes them, keeps every
// task's status consistent with its dependencies, records each transition
// and invalidates the read-side cache after commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"taskgraph/pkg/actor"
	"taskgraph/pkg/audit"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/cache"
	"taskgraph/pkg/store"
	"taskgraph/pkg/task"
)

// ErrPropagationLimit is returned when a cascade exceeds the configured
// depth or node count. The whole request is rolled back.
var ErrPropagationLimit = errors.New("propagation limit exceeded")

// Config bounds propagation and retries.
type Config struct {
	MaxDepth       int
	MaxNodes       int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	// CascadeActorID is recorded as the actor of cascade transitions.
	CascadeActorID string
}

// DefaultConfig returns the stock limits. CascadeActorID must still be set.
func DefaultConfig() Config {
	return Config{
		MaxDepth:       100,
		MaxNodes:       10000,
		RetryAttempts:  3,
		RetryBaseDelay: 20 * time.Millisecond,
	}
}

// Actors resolves actor ids.
type Actors interface {
	Get(ctx context.Context, id string) (*actor.Actor, error)
}

// Engine is safe for concurrent use.
type Engine struct {
	runner store.Runner
	guard  *authz.Guard
	cache  *cache.Coordinator
	actors Actors
	sinks  []audit.Sink
	cfg    Config
}

// New creates an Engine. Committed transition records are published to sinks.
func New(r store.Runner, g *authz.Guard, c *cache.Coordinator, actors Actors, cfg Config, sinks ...audit.Sink) *Engine {
	d := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = d.MaxDepth
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = d.MaxNodes
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = d.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = d.RetryBaseDelay
	}
	return &Engine{runner: r, guard: g, cache: c, actors: actors, sinks: sinks, cfg: cfg}
}

// Outcome is the committed effect of one mutation.
type Outcome struct {
	Task  *task.Task `json:"task,omitempty"`
	RunID string     `json:"run_id"`
	// Records holds every transition written, in append order.
	Records []audit.Record `json:"records"`
}

// run collects the effects of one attempt at a mutation.
type run struct {
	id      string
	pending []audit.Record
	records []audit.Record
	touched map[int64]bool
}

func newRun() *run {
	return &run{id: uuid.Must(uuid.NewV7()).String(), touched: make(map[int64]bool)}
}

func (r *run) touch(ids ...int64) {
	for _, id := range ids {
		r.touched[id] = true
	}
}

// record queues rec for flush.
func (r *run) record(rec audit.Record) {
	rec.RunID = r.id
	r.pending = append(r.pending, rec)
	r.touch(rec.TaskID)
}

// flush appends the queued records in order. It runs after every task row
// the mutation needs is locked, so the chain lock is always taken last.
func (r *run) flush(ctx context.Context, tx store.Tx) error {
	for i := range r.pending {
		stored, err := tx.Audit().Append(ctx, &r.pending[i])
		if err != nil {
			return fmt.Errorf("record transition of task %d: %w", r.pending[i].TaskID, err)
		}
		r.records = append(r.records, *stored)
	}
	r.pending = nil
	return nil
}

func (r *run) cascaded() int {
	n := 0
	for _, rec := range r.records {
		if rec.Cascade {
			n++
		}
	}
	return n
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, task.ErrStale)
}

// mutate runs fn in a transaction, retrying lost races with exponential
// backoff. After commit it invalidates the cache and publishes records.
func (e *Engine) mutate(ctx context.Context, op string, fn func(tx store.Tx, r *run) error) (*run, error) {
	delay := e.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		r := newRun()
		err := e.runner.InTx(ctx, func(tx store.Tx) error {
			if err := fn(tx, r); err != nil {
				return err
			}
			return r.flush(ctx, tx)
		})
		if err == nil {
			e.afterCommit(ctx, op, r)
			return r, nil
		}
		if !retryable(err) {
			if errors.Is(err, ErrPropagationLimit) {
				log.Printf("engine: %s: %v", op, err)
			}
			return nil, err
		}
		if attempt >= e.cfg.RetryAttempts {
			log.Printf("engine: %s: giving up after %d attempts: %v", op, attempt, err)
			return nil, fmt.Errorf("%s: giving up after %d attempts: %w", op, attempt, err)
		}
		log.Printf("engine: %s: conflict on attempt %d, retrying in %s: %v", op, attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
}

func (e *Engine) afterCommit(ctx context.Context, op string, r *run) {
	if len(r.touched) > 0 {
		ids := make([]int64, 0, len(r.touched))
		for id := range r.touched {
			ids = append(ids, id)
		}
		if err := e.cache.InvalidatePattern(ctx, ids...); err != nil {
			log.Printf("engine: %s: cache invalidation failed (entries may be stale until TTL): %v", op, err)
		}
	}
	for _, rec := range r.records {
		for _, s := range e.sinks {
			s.Publish(rec)
		}
	}
	if n := r.cascaded(); n > 0 {
		log.Printf("engine: %s: run %s cascaded %d transition(s)", op, r.id, n)
	}
}

func (e *Engine) outcome(r *run, t *task.Task) *Outcome {
	recs := r.records
	if recs == nil {
		recs = []audit.Record{}
	}
	return &Outcome{Task: t, RunID: r.id, Records: recs}
}

// lockOne locks a live task.
func lockOne(ctx context.Context, tx store.Tx, id int64) (*task.Task, error) {
	locked, err := tx.Tasks().Lock(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	t, ok := locked[id]
	if !ok || t.Trashed() {
		return nil, fmt.Errorf("task %d: %w", id, task.ErrNotFound)
	}
	return t, nil
}
