package depgraph

// Analyzer wraps a Graph with its computed topological order, critical
// path, and priority scores. Construct via Analyze; an acyclic Graph is
// required (Analyze fails with *CircularDependencyError otherwise).
type Analyzer struct {
	graph    *Graph
	order    []string
	critical CriticalPath
	scores   []Score
	scoreOf  map[string]Score
}

// Analyze computes the topological order, critical path, and priority
// scores for g. It is pure, no I/O.
func Analyze(g *Graph) (*Analyzer, error) {
	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	cp := computeCriticalPath(g, order)
	scores := computeScores(g, order, cp)
	scoreOf := make(map[string]Score, len(scores))
	for _, s := range scores {
		scoreOf[s.NodeID] = s
	}
	return &Analyzer{graph: g, order: order, critical: cp, scores: scores, scoreOf: scoreOf}, nil
}

// TopoOrder returns the topological order honoring every edge.
func (a *Analyzer) TopoOrder() []string { return append([]string{}, a.order...) }

// CriticalPath returns the longest-effort path, its duration, and the
// single highest-effort node on it.
func (a *Analyzer) CriticalPath() CriticalPath { return a.critical }

// Scores returns every node's priority score, highest first, under the
// declared tie-break (lower depth, then lower node id).
func (a *Analyzer) Scores() []Score { return append([]Score{}, a.scores...) }

// Score returns one node's computed score.
func (a *Analyzer) Score(id string) (Score, bool) {
	s, ok := a.scoreOf[id]
	return s, ok
}

// ParallelGroups buckets nodes by topological level: level 0 has no
// predecessors, level k's predecessors are all at level < k. Nodes in
// the same bucket can run in parallel.
func (a *Analyzer) ParallelGroups() [][]string {
	depth := computeDepth(a.graph, a.order)
	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	groups := make([][]string, maxDepth+1)
	for _, id := range a.order {
		d := depth[id]
		groups[d] = append(groups[d], id)
	}
	return groups
}

// GetNextExecutable returns the highest-scored node whose dependencies are
// all completed, or ("", false) if none is ready.
func (a *Analyzer) GetNextExecutable() (string, bool) {
	for _, s := range a.scores {
		n, ok := a.graph.Node(s.NodeID)
		if !ok || n.Status == StatusCompleted || n.Status == StatusRunning || n.Status == StatusBlocked {
			continue
		}
		if a.dependenciesCompleted(s.NodeID) {
			return s.NodeID, true
		}
	}
	return "", false
}

func (a *Analyzer) dependenciesCompleted(id string) bool {
	for _, dep := range a.graph.in[id] {
		n, ok := a.graph.Node(dep)
		if !ok || n.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// Ready returns every node whose dependencies are all completed and which
// is itself not completed, running, or blocked.
func (a *Analyzer) Ready() []string {
	var ready []string
	for _, id := range a.order {
		n, _ := a.graph.Node(id)
		if n.Status == StatusCompleted || n.Status == StatusRunning || n.Status == StatusBlocked {
			continue
		}
		if a.dependenciesCompleted(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

// TransitiveDependencies returns every node (directly or indirectly)
// blocking id.
func (a *Analyzer) TransitiveDependencies(id string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(cur string) {
		for _, dep := range a.graph.in[cur] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for _, id := range a.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}

// Stats summarizes the graph's shape and progress.
type Stats struct {
	TotalNodes     int
	CompletedNodes int
	ReadyNodes     int
	BlockedNodes   int
	CriticalPath   CriticalPath
}

// Stats computes summary statistics over the current node statuses.
func (a *Analyzer) Stats() Stats {
	s := Stats{TotalNodes: len(a.order), CriticalPath: a.critical}
	for _, id := range a.order {
		n, _ := a.graph.Node(id)
		switch n.Status {
		case StatusCompleted:
			s.CompletedNodes++
		case StatusBlocked:
			s.BlockedNodes++
		}
	}
	s.ReadyNodes = len(a.Ready())
	return s
}
