package retry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

type fakeCheckpoints struct {
	created int
	cleared int
}

func (f *fakeCheckpoints) CreateCheckpoint(workOrderID string, step WorkStep, attempt int, state map[string]any) (Checkpoint, error) {
	f.created++
	return Checkpoint{Step: step, Attempt: attempt, State: state}, nil
}

func (f *fakeCheckpoints) RestoreCheckpoint(workOrderID string) (Checkpoint, bool, error) {
	return Checkpoint{}, false, nil
}

func (f *fakeCheckpoints) ClearCheckpoint(workOrderID string) error {
	f.cleared++
	return nil
}

func zeroJitterRand() *rand.Rand { return rand.New(rand.NewSource(1)) }

func TestExecuteSucceedsOnFirstAttempt(t *testing.T) {
	cps := &fakeCheckpoints{}
	var escalations int
	exec := NewExecutor(cps, func(EscalationReport) error { escalations++; return nil }, WithRand(zeroJitterRand()))

	res := exec.Execute(context.Background(), Operation{
		Name:        "context_analysis",
		WorkOrderID: "WO-1",
		Run: func(ctx context.Context, attempt int) (any, error) {
			return "ok", nil
		},
	})

	if !res.Success || res.Attempts != 1 {
		t.Fatalf("res = %+v, want success on attempt 1", res)
	}
	if cps.cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cps.cleared)
	}
	if escalations != 0 {
		t.Fatalf("escalations = %d, want 0", escalations)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	cps := &fakeCheckpoints{}
	exec := NewExecutor(cps, nil, WithRand(zeroJitterRand()))

	calls := 0
	res := exec.Execute(context.Background(), Operation{
		Name:        "llm-call",
		WorkOrderID: "WO-2",
		Backoff:     BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		Run: func(ctx context.Context, attempt int) (any, error) {
			calls++
			if calls < 2 {
				return nil, Transient(errors.New("rate limited"))
			}
			return "ok", nil
		},
	})

	if !res.Success || res.Attempts != 2 {
		t.Fatalf("res = %+v, want success on attempt 2", res)
	}
	if cps.created != 1 {
		t.Fatalf("created = %d, want 1 checkpoint from the failed first attempt", cps.created)
	}
}

func TestExecuteEscalatesOnFatal(t *testing.T) {
	cps := &fakeCheckpoints{}
	var report EscalationReport
	exec := NewExecutor(cps, func(r EscalationReport) error { report = r; return nil }, WithRand(zeroJitterRand()))

	res := exec.Execute(context.Background(), Operation{
		Name:        "branch_creation",
		WorkOrderID: "WO-3",
		Backoff:     BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		Run: func(ctx context.Context, attempt int) (any, error) {
			return nil, Fatal(errors.New("permission denied"))
		},
	})

	if res.Success {
		t.Fatalf("res = %+v, want failure", res)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (fatal never retries)", res.Attempts)
	}
	if report.Category != CategoryFatal {
		t.Fatalf("escalation category = %q, want fatal", report.Category)
	}
}

func TestExecuteExhaustsTransientRetriesAndEscalates(t *testing.T) {
	cps := &fakeCheckpoints{}
	var report EscalationReport
	exec := NewExecutor(cps, func(r EscalationReport) error { report = r; return nil }, WithRand(zeroJitterRand()))

	calls := 0
	res := exec.Execute(context.Background(), Operation{
		Name:        "push",
		WorkOrderID: "WO-4",
		ServiceKey:  "github-cli",
		Backoff:     BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 2},
		Run: func(ctx context.Context, attempt int) (any, error) {
			calls++
			return nil, Transient(errors.New("network unreachable"))
		},
	})

	if res.Success {
		t.Fatal("expected failure after exhausting attempts")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (MaxAttempts)", calls)
	}
	if len(report.Attempts) != 2 {
		t.Fatalf("report.Attempts = %d, want 2", len(report.Attempts))
	}
}

func TestExecuteRecoverableRequiresFixProgress(t *testing.T) {
	cps := &fakeCheckpoints{}
	exec := NewExecutor(cps, nil, WithRand(zeroJitterRand()))

	calls := 0
	res := exec.Execute(context.Background(), Operation{
		Name:        "test_generation",
		WorkOrderID: "WO-5",
		Backoff:     BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		Fix: func(ctx context.Context, err error) (bool, error) {
			return false, nil // fixer made no progress
		},
		Run: func(ctx context.Context, attempt int) (any, error) {
			calls++
			return nil, Recoverable(errors.New("lint failure"))
		},
	})

	if res.Success {
		t.Fatal("expected failure when fixer reports no progress")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (stop retrying once fixer stalls)", calls)
	}
}

func TestExecuteNonRetryableStopsAfterOneAttempt(t *testing.T) {
	cps := &fakeCheckpoints{}
	exec := NewExecutor(cps, nil, WithRand(zeroJitterRand()))

	calls := 0
	res := exec.Execute(context.Background(), Operation{
		Name:         "commit",
		WorkOrderID:  "WO-6",
		NonRetryable: true,
		Backoff:      BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 5},
		Run: func(ctx context.Context, attempt int) (any, error) {
			calls++
			return nil, Transient(errors.New("temporary failure"))
		},
	})

	if res.Success || calls != 1 {
		t.Fatalf("res = %+v, calls = %d, want 1 attempt and failure", res, calls)
	}
}

func TestExecuteTimeoutCategorisedTransient(t *testing.T) {
	cps := &fakeCheckpoints{}
	var report EscalationReport
	exec := NewExecutor(cps, func(r EscalationReport) error { report = r; return nil }, WithRand(zeroJitterRand()))

	res := exec.Execute(context.Background(), Operation{
		Name:        "slow-call",
		WorkOrderID: "WO-7",
		Timeout:     time.Millisecond,
		Backoff:     BackoffConfig{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 1},
		Run: func(ctx context.Context, attempt int) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if report.Category != CategoryTransient {
		t.Fatalf("category = %q, want transient", report.Category)
	}
}
