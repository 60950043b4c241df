package store

import (
	"context"
	"fmt"
	"sort"

	"taskgraph/pkg/dependency"
)

type memEdges struct{ st *memState }

func (s memEdges) EnsureTable(context.Context) error { return nil }

// LockGraph is a no-op: memory transactions are already serialized.
func (s memEdges) LockGraph(context.Context) error { return nil }

func (s memEdges) Add(_ context.Context, taskID, dependsOnID int64, createdBy string) (*dependency.Edge, bool, error) {
	k := edgeKey{taskID, dependsOnID}
	if e, ok := s.st.edges[k]; ok {
		cp := *e
		return &cp, false, nil
	}
	for _, id := range []int64{taskID, dependsOnID} {
		if _, ok := s.st.tasks[id]; !ok {
			return nil, false, fmt.Errorf("add dependency %d -> %d: task %d does not exist", taskID, dependsOnID, id)
		}
	}
	s.st.nextEdge++
	e := &dependency.Edge{ID: s.st.nextEdge, TaskID: taskID, DependsOnID: dependsOnID, CreatedBy: createdBy, CreatedAt: now()}
	s.st.edges[k] = e
	cp := *e
	return &cp, true, nil
}

func (s memEdges) Remove(_ context.Context, taskID, dependsOnID int64) (bool, error) {
	k := edgeKey{taskID, dependsOnID}
	_, ok := s.st.edges[k]
	delete(s.st.edges, k)
	return ok, nil
}

func (s memEdges) RemoveAll(_ context.Context, taskID int64) (int, error) {
	n := 0
	for k := range s.st.edges {
		if k.taskID == taskID || k.dependsOnID == taskID {
			delete(s.st.edges, k)
			n++
		}
	}
	return n, nil
}

func (s memEdges) DependenciesOf(_ context.Context, ids []int64) (map[int64][]int64, error) {
	return s.adjacency(ids, func(k edgeKey) (int64, int64) { return k.taskID, k.dependsOnID }), nil
}

func (s memEdges) DependentsOf(_ context.Context, ids []int64) (map[int64][]int64, error) {
	return s.adjacency(ids, func(k edgeKey) (int64, int64) { return k.dependsOnID, k.taskID }), nil
}

func (s memEdges) adjacency(ids []int64, split func(edgeKey) (int64, int64)) map[int64][]int64 {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[int64][]int64, len(ids))
	for k := range s.st.edges {
		from, to := split(k)
		if want[from] {
			out[from] = append(out[from], to)
		}
	}
	for id := range out {
		sortIDs(out[id])
	}
	return out
}

func (s memEdges) Edges(_ context.Context, taskID int64) ([]dependency.Edge, error) {
	var out []dependency.Edge
	for k, e := range s.st.edges {
		if k.taskID == taskID {
			out = append(out, *e)
		}
	}
	sortEdges(out)
	return out, nil
}

func (s memEdges) All(context.Context) ([]dependency.Edge, error) {
	out := make([]dependency.Edge, 0, len(s.st.edges))
	for _, e := range s.st.edges {
		out = append(out, *e)
	}
	sortEdges(out)
	return out, nil
}

func (s memEdges) Reachable(ctx context.Context, from, to int64) (bool, error) {
	all, _ := s.All(ctx)
	return dependency.NewGraph(all).Reachable(from, to), nil
}

func sortEdges(edges []dependency.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TaskID != edges[j].TaskID {
			return edges[i].TaskID < edges[j].TaskID
		}
		return edges[i].DependsOnID < edges[j].DependsOnID
	})
}
