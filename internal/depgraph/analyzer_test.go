package depgraph

import "testing"

func buildGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	g.AddNode(Node{ID: "A", Priority: P0, Effort: 3, Status: StatusPending})
	g.AddNode(Node{ID: "B", Priority: P1, Effort: 1, Status: StatusPending})
	g.AddNode(Node{ID: "C", Priority: P2, Effort: 5, Status: StatusPending})
	g.AddNode(Node{ID: "D", Priority: P3, Effort: 2, Status: StatusPending})
	must(t, g.AddEdge("A", "B"))
	must(t, g.AddEdge("A", "C"))
	must(t, g.AddEdge("B", "D"))
	must(t, g.AddEdge("C", "D"))
	return g
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTopoOrderHonoursEdges(t *testing.T) {
	g := buildGraph(t)
	a, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	order := a.TopoOrder()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["A"] > pos["B"] || pos["A"] > pos["C"] || pos["B"] > pos["D"] || pos["C"] > pos["D"] {
		t.Fatalf("topo order %v violates edges", order)
	}
}

func TestCircularDependencyNamesWitnessCycle(t *testing.T) {
	g := NewGraph()
	g.AddNode(Node{ID: "A"})
	g.AddNode(Node{ID: "B"})
	g.AddNode(Node{ID: "C"})
	must(t, g.AddEdge("A", "B"))
	must(t, g.AddEdge("B", "C"))
	must(t, g.AddEdge("C", "A"))

	_, err := Analyze(g)
	var cycleErr *CircularDependencyError
	if err == nil {
		t.Fatal("expected CircularDependencyError")
	}
	if e, ok := err.(*CircularDependencyError); ok {
		cycleErr = e
	} else {
		t.Fatalf("err = %v, want *CircularDependencyError", err)
	}
	if len(cycleErr.Cycle) < 3 {
		t.Fatalf("cycle = %v, want at least 3 nodes", cycleErr.Cycle)
	}
}

func TestCriticalPathPicksHighestEffortBottleneck(t *testing.T) {
	g := buildGraph(t)
	a, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	cp := a.CriticalPath()
	if cp.Bottleneck != "C" {
		t.Fatalf("bottleneck = %q, want C (effort 5)", cp.Bottleneck)
	}
	if cp.Duration != 3+5+2 {
		t.Fatalf("duration = %v, want 10", cp.Duration)
	}
}

func TestGetNextExecutableReturnsHighestScoredReadyNode(t *testing.T) {
	g := buildGraph(t)
	a, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	id, ok := a.GetNextExecutable()
	if !ok || id != "A" {
		t.Fatalf("next = %q, ok=%v, want A", id, ok)
	}
}

func TestPriorityScoringTotalOrder(t *testing.T) {
	g := buildGraph(t)
	a, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	scores := a.Scores()
	for i := 1; i < len(scores); i++ {
		if scores[i-1].Value < scores[i].Value {
			t.Fatalf("scores not sorted descending: %+v", scores)
		}
	}
}

func TestParallelGroupsRespectDepth(t *testing.T) {
	g := buildGraph(t)
	a, err := Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	groups := a.ParallelGroups()
	if len(groups[0]) != 1 || groups[0][0] != "A" {
		t.Fatalf("level 0 = %v, want [A]", groups[0])
	}
}
