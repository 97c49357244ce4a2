package depgraph

import (
	"fmt"
	"sort"
)

// CircularDependencyError carries a witness cycle (closed: the first id is
// repeated as the last) so the user can see which issues to untangle. The
// witness is the first cycle the search meets, not necessarily the
// shortest cycle in the graph.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("depgraph: CIRCULAR_DEPENDENCY: %v", e.Cycle)
}

// topoSort runs Kahn's algorithm. Ties among simultaneously-ready nodes are
// broken by ascending node id, which also makes the result deterministic
// for tests. On a cycle, it returns a CircularDependencyError naming the
// first cycle found by DFS from the nodes left with nonzero in-degree once
// the queue has drained, tried in ascending id order; shorter cycles
// elsewhere in the graph are not searched for.
func topoSort(g *Graph) ([]string, error) {
	inDegree := map[string]int{}
	for _, n := range g.order {
		inDegree[n] = len(g.in[n])
	}
	var ready []string
	for _, n := range g.order {
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var result []string
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)
		for _, next := range g.out[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(result) == len(g.order) {
		return result, nil
	}

	var remaining []string
	for _, n := range g.order {
		if inDegree[n] > 0 {
			remaining = append(remaining, n)
		}
	}
	sort.Strings(remaining)
	for _, start := range remaining {
		if cycle := findCycle(g, start); len(cycle) > 1 {
			return nil, &CircularDependencyError{Cycle: cycle}
		}
	}
	return nil, &CircularDependencyError{Cycle: remaining}
}

// findCycle performs a DFS from start over nodes still in the graph after
// Kahn's algorithm stalls, returning the first cycle encountered, closed
// (first id repeated as the last element).
func findCycle(g *Graph, start string) []string {
	visited := map[string]int{} // 0=unseen,1=in-stack,2=done
	path := []string{}

	var visit func(string) []string
	visit = func(id string) []string {
		visited[id] = 1
		path = append(path, id)
		for _, next := range g.out[id] {
			switch visited[next] {
			case 1:
				// found the cycle: slice path from next's first occurrence.
				for i, p := range path {
					if p == next {
						cyc := append([]string{}, path[i:]...)
						return append(cyc, next)
					}
				}
			case 0:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			}
		}
		visited[id] = 2
		path = path[:len(path)-1]
		return nil
	}
	if cyc := visit(start); cyc != nil {
		return cyc
	}
	return []string{start}
}
