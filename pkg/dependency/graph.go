package dependency

import "sort"

// Graph is an in-memory adjacency view over a set of edges.
type Graph struct {
	deps   map[int64][]int64 // task -> tasks it depends on
	revDep map[int64][]int64 // task -> tasks that depend on it
}

// NewGraph indexes edges. Adjacency lists are sorted so walks are deterministic.
func NewGraph(edges []Edge) *Graph {
	g := &Graph{
		deps:   make(map[int64][]int64),
		revDep: make(map[int64][]int64),
	}
	for _, e := range edges {
		g.deps[e.TaskID] = append(g.deps[e.TaskID], e.DependsOnID)
		g.revDep[e.DependsOnID] = append(g.revDep[e.DependsOnID], e.TaskID)
	}
	for _, m := range []map[int64][]int64{g.deps, g.revDep} {
		for k := range m {
			sort.Slice(m[k], func(i, j int) bool { return m[k][i] < m[k][j] })
		}
	}
	return g
}

// DependenciesOf returns the ids id depends on.
func (g *Graph) DependenciesOf(id int64) []int64 { return g.deps[id] }

// DependentsOf returns the ids that depend on id.
func (g *Graph) DependentsOf(id int64) []int64 { return g.revDep[id] }

// Reachable reports whether to is reachable from from. Each node is
// expanded once, so cycles terminate.
func (g *Graph) Reachable(from, to int64) bool {
	if from == to {
		return true
	}
	seen := map[int64]bool{from: true}
	frontier := []int64{from}
	for len(frontier) > 0 {
		var next []int64
		for _, id := range frontier {
			for _, d := range g.deps[id] {
				if d == to {
					return true
				}
				if !seen[d] {
					seen[d] = true
					next = append(next, d)
				}
			}
		}
		frontier = next
	}
	return false
}

// DetectCycle returns one cycle as a path whose first and last element are
// the same task, or nil if the graph is acyclic.
// Uses DFS with coloring: white (unvisited), gray (on the stack), black (done).
func (g *Graph) DetectCycle() []int64 {
	const (
		white = iota
		gray
		black
	)

	color := make(map[int64]int)
	var stack []int64

	var dfs func(node int64) []int64
	dfs = func(node int64) []int64 {
		color[node] = gray
		stack = append(stack, node)
		for _, next := range g.deps[node] {
			switch color[next] {
			case gray:
				for i, id := range stack {
					if id == next {
						cycle := append([]int64{}, stack[i:]...)
						return append(cycle, next)
					}
				}
			case white:
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[node] = black
		return nil
	}

	ids := make([]int64, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
