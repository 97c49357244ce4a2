package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/depgraph"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

func TestPoolRunAllRespectsCapacity(t *testing.T) {
	pool := NewPool(2)
	var concurrent int32
	var maxConcurrent int32
	orders := []WorkOrder{{ID: "WO-1"}, {ID: "WO-2"}, {ID: "WO-3"}, {ID: "WO-4"}}

	err := pool.RunAll(context.Background(), orders, func(ctx context.Context, wo WorkOrder) error {
		n := atomic.AddInt32(&concurrent, 1)
		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if maxConcurrent > 2 {
		t.Fatalf("max concurrent = %d, want <= 2", maxConcurrent)
	}
}

func TestPRReviewPoolSharedDrawsFromImplPool(t *testing.T) {
	impl := NewPool(3)
	review := NewPRReviewPool(1, true, impl)
	ran := false
	if err := review.Review(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("review function did not run")
	}
}

func TestWorkerRunExecutesStepsInOrder(t *testing.T) {
	var seen []string
	steps := map[scratchpad.WorkStep]StepFunc{
		scratchpad.StepContextAnalysis: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "context_analysis")
			return state, nil
		},
		scratchpad.StepBranchCreation: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "branch_creation")
			return state, nil
		},
		scratchpad.StepCodeGeneration: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "code_generation")
			return state, nil
		},
		scratchpad.StepTestGeneration: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "test_generation")
			return state, nil
		},
		scratchpad.StepVerification: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "verification")
			return state, nil
		},
		scratchpad.StepCommit: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "commit")
			return state, nil
		},
		scratchpad.StepResultPersistence: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			seen = append(seen, "result_persistence")
			state["done"] = true
			return state, nil
		},
	}
	executor := retry.NewExecutor(nil, nil)
	worker := NewWorker("w1", executor, steps)

	state, err := worker.Run(context.Background(), nil, WorkOrder{ID: "WO-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"context_analysis", "branch_creation", "code_generation", "test_generation", "verification", "commit", "result_persistence"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
	if state["done"] != true {
		t.Fatalf("state = %+v, want done=true", state)
	}
}

func TestWorkerRunStopsOnNonResumableFailure(t *testing.T) {
	calls := 0
	steps := map[scratchpad.WorkStep]StepFunc{
		scratchpad.StepContextAnalysis: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			return state, nil
		},
		scratchpad.StepBranchCreation: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			return state, nil
		},
		scratchpad.StepCodeGeneration: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			return state, nil
		},
		scratchpad.StepTestGeneration: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			return state, nil
		},
		scratchpad.StepVerification: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			calls++
			return nil, retry.Fatal(errors.New("ci failed"))
		},
		scratchpad.StepCommit: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			t.Fatal("commit should not run after verification fails")
			return state, nil
		},
		scratchpad.StepResultPersistence: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			t.Fatal("result_persistence should not run after verification fails")
			return state, nil
		},
	}
	executor := retry.NewExecutor(nil, nil)
	worker := NewWorker("w1", executor, steps)

	_, err := worker.Run(context.Background(), nil, WorkOrder{ID: "WO-2"})
	if err == nil {
		t.Fatal("expected error from failing verification step")
	}
	if calls != 1 {
		t.Fatalf("verification calls = %d, want 1 (fatal never retries)", calls)
	}
}

func TestDispatcherDrainCompletesReadyNodes(t *testing.T) {
	g := depgraph.NewGraph()
	g.AddNode(depgraph.Node{ID: "A", Priority: depgraph.P0, Effort: 1, Status: depgraph.StatusPending})
	g.AddNode(depgraph.Node{ID: "B", Priority: depgraph.P1, Effort: 1, Status: depgraph.StatusPending})
	if err := g.AddEdge("A", "B"); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	analyzer, err := depgraph.Analyze(g)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	pool := NewPool(2)
	src := fakeIssueSource{}
	dispatcher := NewDispatcher(g, analyzer, pool, src)

	steps := map[scratchpad.WorkStep]StepFunc{}
	for _, s := range stepOrder {
		steps[s] = func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			return state, nil
		}
	}
	executor := retry.NewExecutor(nil, nil)

	results, errs := dispatcher.Drain(context.Background(), nil, func(id string) *Worker {
		return NewWorker(id, executor, steps)
	})
	if len(errs) != 0 {
		t.Fatalf("errs = %+v, want none", errs)
	}
	if _, ok := results["A"]; !ok {
		t.Fatal("expected A to complete")
	}
	if _, ok := results["B"]; !ok {
		t.Fatal("expected B to complete")
	}
}

type fakeIssueSource struct{}

func (fakeIssueSource) ContextFor(issueID string) (string, []string, map[string]any, error) {
	return "issue " + issueID, []string{"criterion 1"}, map[string]any{}, nil
}

func TestWorkerVerificationRetriesAfterFixProgress(t *testing.T) {
	verifyCalls, fixCalls := 0, 0
	passthrough := func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
		return state, nil
	}
	steps := map[scratchpad.WorkStep]StepFunc{
		scratchpad.StepContextAnalysis: passthrough,
		scratchpad.StepBranchCreation:  passthrough,
		scratchpad.StepCodeGeneration:  passthrough,
		scratchpad.StepTestGeneration:  passthrough,
		scratchpad.StepVerification: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			verifyCalls++
			if verifyCalls < 3 {
				return state, retry.Recoverable(errors.New("tests failing"))
			}
			return state, nil
		},
		scratchpad.StepCommit:            passthrough,
		scratchpad.StepResultPersistence: passthrough,
	}
	fixers := map[scratchpad.WorkStep]retry.Fixer{
		scratchpad.StepVerification: func(ctx context.Context, err error) (bool, error) {
			fixCalls++
			return true, nil
		},
	}
	executor := retry.NewExecutor(nil, nil)
	worker := NewWorker("w1", executor, steps, WithFixers(fixers), WithVerifyAttempts(3))

	_, err := worker.Run(context.Background(), nil, WorkOrder{ID: "WO-3"})
	if err != nil {
		t.Fatalf("expected verification to pass within its budget: %v", err)
	}
	if verifyCalls != 3 {
		t.Fatalf("verification attempts = %d, want 3", verifyCalls)
	}
	if fixCalls != 2 {
		t.Fatalf("fix attempts = %d, want one before each retry", fixCalls)
	}
}

func TestWorkerVerificationStopsWhenFixerStalls(t *testing.T) {
	verifyCalls := 0
	passthrough := func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
		return state, nil
	}
	steps := map[scratchpad.WorkStep]StepFunc{
		scratchpad.StepContextAnalysis: passthrough,
		scratchpad.StepBranchCreation:  passthrough,
		scratchpad.StepCodeGeneration:  passthrough,
		scratchpad.StepTestGeneration:  passthrough,
		scratchpad.StepVerification: func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error) {
			verifyCalls++
			return state, retry.Recoverable(errors.New("tests failing"))
		},
		scratchpad.StepCommit:            passthrough,
		scratchpad.StepResultPersistence: passthrough,
	}
	fixers := map[scratchpad.WorkStep]retry.Fixer{
		scratchpad.StepVerification: func(ctx context.Context, err error) (bool, error) {
			return false, nil
		},
	}
	executor := retry.NewExecutor(nil, nil)
	worker := NewWorker("w1", executor, steps, WithFixers(fixers), WithVerifyAttempts(3))

	_, err := worker.Run(context.Background(), nil, WorkOrder{ID: "WO-4"})
	if err == nil {
		t.Fatal("expected failure once the fixer reports no progress")
	}
	if verifyCalls != 1 {
		t.Fatalf("verification attempts = %d, want 1 (no progress, no retry)", verifyCalls)
	}
}
