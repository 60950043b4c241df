// Package dependency stores the directed "task depends on task" edges and
// knows nothing about statuses.
package dependency

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEdge is returned for a self-dependency.
	ErrInvalidEdge = errors.New("invalid dependency edge")
	// ErrCycleDetected is returned when an edge would close a cycle.
	ErrCycleDetected = errors.New("dependency cycle detected")
	// ErrNotFound is returned when removing an edge that does not exist.
	ErrNotFound = errors.New("dependency not found")
)

// Edge means TaskID cannot be unblocked until DependsOnID is Completed.
type Edge struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	DependsOnID int64     `json:"depends_on_id"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for edge persistence.
type Store interface {
	// Add inserts the edge. Adding an existing pair returns the stored
	// edge with created=false.
	Add(ctx context.Context, taskID, dependsOnID int64, createdBy string) (e *Edge, created bool, err error)

	// Remove deletes one edge, reporting whether it existed.
	Remove(ctx context.Context, taskID, dependsOnID int64) (bool, error)

	// RemoveAll deletes every edge touching taskID in either direction.
	RemoveAll(ctx context.Context, taskID int64) (int, error)

	// DependenciesOf maps each id to the ids it depends on.
	DependenciesOf(ctx context.Context, ids []int64) (map[int64][]int64, error)

	// DependentsOf maps each id to the ids that depend on it.
	DependentsOf(ctx context.Context, ids []int64) (map[int64][]int64, error)

	// Edges returns the outgoing edges of taskID.
	Edges(ctx context.Context, taskID int64) ([]Edge, error)

	// Reachable reports whether to can be reached from from by following
	// depends-on edges, however long the path.
	Reachable(ctx context.Context, from, to int64) (bool, error)

	// LockGraph holds the transaction-scoped edge insert lock. Edge inserts
	// that check reachability first must take it, or two concurrent inserts
	// can each pass the check and together close a cycle.
	LockGraph(ctx context.Context) error

	All(ctx context.Context) ([]Edge, error)
	EnsureTable(ctx context.Context) error
}

// Check validates a prospective edge: no self-loop, and dependsOnID must
// not already reach taskID.
func Check(ctx context.Context, s Store, taskID, dependsOnID int64) error {
	if taskID == dependsOnID {
		return fmt.Errorf("task %d cannot depend on itself: %w", taskID, ErrInvalidEdge)
	}
	cycle, err := s.Reachable(ctx, dependsOnID, taskID)
	if err != nil {
		return fmt.Errorf("check cycle %d -> %d: %w", taskID, dependsOnID, err)
	}
	if cycle {
		return fmt.Errorf("task %d -> %d -> ... -> %d: %w", taskID, dependsOnID, taskID, ErrCycleDetected)
	}
	return nil
}
