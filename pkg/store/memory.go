package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskgraph/pkg/audit"
	"taskgraph/pkg/dependency"
	"taskgraph/pkg/task"
)

type edgeKey struct {
	taskID, dependsOnID int64
}

// memState is everything the memory driver holds.
type memState struct {
	tasks    map[int64]*task.Task
	edges    map[edgeKey]*dependency.Edge
	records  []audit.Record
	nextTask int64
	nextEdge int64
}

func newMemState() *memState {
	return &memState{
		tasks: make(map[int64]*task.Task),
		edges: make(map[edgeKey]*dependency.Edge),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		tasks:    make(map[int64]*task.Task, len(s.tasks)),
		edges:    make(map[edgeKey]*dependency.Edge, len(s.edges)),
		records:  append([]audit.Record(nil), s.records...),
		nextTask: s.nextTask,
		nextEdge: s.nextEdge,
	}
	for id, t := range s.tasks {
		cp := *t
		c.tasks[id] = &cp
	}
	for k, e := range s.edges {
		cp := *e
		c.edges[k] = &cp
	}
	return c
}

// Memory runs units of work against in-process maps. Transactions are
// serialized and roll back by restoring a snapshot.
type Memory struct {
	mu sync.RWMutex
	st *memState
}

// NewMemory creates an empty Memory runner.
func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

// InTx runs fn holding the write lock, restoring the prior state if fn fails.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(memTx{m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// View runs fn holding the read lock.
func (m *Memory) View(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(memTx{m.st})
}

// EnsureSchema is a no-op.
func (m *Memory) EnsureSchema(context.Context) error { return nil }

type memTx struct{ st *memState }

func (t memTx) Tasks() task.Store       { return memTasks(t) }
func (t memTx) Edges() dependency.Store { return memEdges(t) }
func (t memTx) Audit() audit.Store      { return memAudit(t) }

func now() time.Time { return time.Now().Truncate(time.Microsecond) }

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
