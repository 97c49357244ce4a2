package depgraph

import "sort"

// QuickWinThreshold is the effort at or below which a node earns the
// "quick win" scoring bonus.
const QuickWinThreshold = 2.0

// Score is a node's computed priority, higher is more urgent.
type Score struct {
	NodeID         string
	Value          int
	Depth          int
	OnCriticalPath bool
}

// computeScores assigns each node:
//
//	score = priority_weight + direct_dependent_count*10 + (on_critical_path?50:0) + (effort<=quick_win?15:0)
//
// Ties break by lower depth, then lower node id; computeScores returns
// scores sorted under that total order (highest score first).
func computeScores(g *Graph, order []string, cp CriticalPath) []Score {
	depth := computeDepth(g, order)
	onPath := map[string]bool{}
	for _, id := range cp.Path {
		onPath[id] = true
	}

	scores := make([]Score, 0, len(order))
	for _, id := range order {
		n := g.nodes[id]
		value := n.Priority.weight()
		value += len(g.out[id]) * 10
		if onPath[id] {
			value += 50
		}
		if n.Effort <= QuickWinThreshold {
			value += 15
		}
		scores = append(scores, Score{NodeID: id, Value: value, Depth: depth[id], OnCriticalPath: onPath[id]})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		return a.NodeID < b.NodeID
	})
	return scores
}

// computeDepth assigns each node its longest-path distance from a root
// (no predecessors), used as a priority tie-break and for parallel
// grouping.
func computeDepth(g *Graph, order []string) map[string]int {
	depth := map[string]int{}
	for _, id := range order {
		d := 0
		for _, dep := range g.in[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
	}
	return depth
}
