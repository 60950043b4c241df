package dependency

import (
	"context"
	"errors"
	"testing"
)

func edges(pairs ...[2]int64) []Edge {
	out := make([]Edge, len(pairs))
	for i, p := range pairs {
		out[i] = Edge{ID: int64(i + 1), TaskID: p[0], DependsOnID: p[1]}
	}
	return out
}

func TestGraphAdjacency(t *testing.T) {
	g := NewGraph(edges([2]int64{1, 3}, [2]int64{1, 2}, [2]int64{4, 2}))

	deps := g.DependenciesOf(1)
	if len(deps) != 2 || deps[0] != 2 || deps[1] != 3 {
		t.Errorf("expected [2 3], got %v", deps)
	}
	dependents := g.DependentsOf(2)
	if len(dependents) != 2 || dependents[0] != 1 || dependents[1] != 4 {
		t.Errorf("expected [1 4], got %v", dependents)
	}
	if len(g.DependentsOf(1)) != 0 {
		t.Errorf("expected no dependents of 1, got %v", g.DependentsOf(1))
	}
}

func TestGraphReachable(t *testing.T) {
	// A(1) -> B(2) -> C(3)
	g := NewGraph(edges([2]int64{1, 2}, [2]int64{2, 3}))

	if !g.Reachable(1, 3) {
		t.Error("expected 3 reachable from 1")
	}
	if g.Reachable(3, 1) {
		t.Error("edges are directed; 1 must not be reachable from 3")
	}
}

func TestGraphReachableLongChain(t *testing.T) {
	var es []Edge
	for i := int64(1); i < 250; i++ {
		es = append(es, Edge{TaskID: i, DependsOnID: i + 1})
	}
	g := NewGraph(es)
	if !g.Reachable(1, 250) {
		t.Error("expected the end of a 249-hop chain to be reachable")
	}

	// Existing cycle 1 -> ... -> 250 -> 1 must still terminate.
	g = NewGraph(append(es, Edge{TaskID: 250, DependsOnID: 1}))
	if g.Reachable(1, 999) {
		t.Error("999 is not in the graph")
	}
}

func TestDetectCycle(t *testing.T) {
	if c := NewGraph(edges([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{1, 3})).DetectCycle(); c != nil {
		t.Fatalf("expected acyclic, got %v", c)
	}

	c := NewGraph(edges([2]int64{1, 2}, [2]int64{2, 3}, [2]int64{3, 1})).DetectCycle()
	if len(c) != 4 {
		t.Fatalf("expected 3-node cycle path of length 4, got %v", c)
	}
	if c[0] != c[len(c)-1] {
		t.Errorf("expected cycle to start and end on the same task, got %v", c)
	}
}

// reachStore answers Reachable from an in-memory graph; other methods are unused.
type reachStore struct {
	Store
	g *Graph
}

func (s reachStore) Reachable(_ context.Context, from, to int64) (bool, error) {
	return s.g.Reachable(from, to), nil
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	s := reachStore{g: NewGraph(edges([2]int64{1, 2}, [2]int64{2, 3}))}

	if err := Check(ctx, s, 5, 5); !errors.Is(err, ErrInvalidEdge) {
		t.Errorf("expected ErrInvalidEdge, got %v", err)
	}
	// A->B, B->C exist; C->A would close the loop.
	if err := Check(ctx, s, 3, 1); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("expected ErrCycleDetected, got %v", err)
	}
	if err := Check(ctx, s, 1, 3); err != nil {
		t.Errorf("redundant forward edge should be allowed, got %v", err)
	}
	if err := Check(ctx, s, 4, 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
