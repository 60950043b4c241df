// Package app wires configuration into a running engine. Both binaries
// share it.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskgraph/internal/config"
	"taskgraph/internal/db"
	"taskgraph/pkg/actor"
	"taskgraph/pkg/audit"
	"taskgraph/pkg/authz"
	"taskgraph/pkg/cache"
	"taskgraph/pkg/engine"
	"taskgraph/pkg/report"
	"taskgraph/pkg/store"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Runner  store.Runner
	Actors  actor.Store
	Guard   *authz.Guard
	Cache   *cache.Coordinator
	Bus     *audit.Bus
	Engine  *engine.Engine
	Reports *report.Reporter
	Cascade *actor.Actor

	pool *pgxpool.Pool
}

// Open connects storage, ensures the schema, registers the cascade actor and
// builds the engine.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Bus: audit.NewBus()}

	switch cfg.Driver {
	case config.DriverMemory:
		a.Runner = store.NewMemory()
		a.Actors = actor.NewMemStore()
		log.Printf("app: using in-memory storage; data is lost on exit")
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		a.pool = pool
		a.Runner = store.NewPostgres(pool)
		a.Actors = actor.NewPgStore(pool)
	}

	if err := a.Actors.EnsureTable(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure actors table: %w", err)
	}
	if err := a.Runner.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	cascade, err := actor.RegisterCascade(ctx, a.Actors, cfg.CascadeName)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register cascade actor: %w", err)
	}
	a.Cascade = cascade

	a.Guard = authz.NewGuard(authz.NewTableProvider(authz.DefaultTable, a.Actors))
	a.Cache = cache.NewCoordinator(cache.NewMemory(), cfg.CacheTTLs)
	ec := cfg.Engine()
	ec.CascadeActorID = cascade.ID
	a.Engine = engine.New(a.Runner, a.Guard, a.Cache, a.Actors, ec, a.Bus)
	a.Reports = report.New(a.Runner, a.Cache)
	return a, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Startup retries Open while the database comes up.
func Startup(ctx context.Context, cfg *config.Config, attempts int) (*App, error) {
	var err error
	for i := 1; i <= attempts; i++ {
		var a *App
		if a, err = Open(ctx, cfg); err == nil {
			return a, nil
		}
		log.Printf("app: waiting for storage (attempt %d/%d): %v", i, attempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, err
}
