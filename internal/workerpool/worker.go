package workerpool

import (
	"context"
	"fmt"

	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

// stepOrder is the fixed worker step sequence.
var stepOrder = []scratchpad.WorkStep{
	scratchpad.StepContextAnalysis,
	scratchpad.StepBranchCreation,
	scratchpad.StepCodeGeneration,
	scratchpad.StepTestGeneration,
	scratchpad.StepVerification,
	scratchpad.StepCommit,
	scratchpad.StepResultPersistence,
}

// StepFunc performs one worker step. It receives the accumulated state
// from prior steps and returns the state to carry forward.
type StepFunc func(ctx context.Context, wo WorkOrder, state map[string]any) (map[string]any, error)

// DefaultVerifyAttempts is verification's own retry budget, distinct from
// the transport retry the other steps get: each attempt beyond the first
// is preceded by an automatic fix attempt.
const DefaultVerifyAttempts = 3

// Worker drives one work order through the seven-step sequence, gated by
// the retry executor between every step.
type Worker struct {
	ID             string
	executor       *retry.Executor
	steps          map[scratchpad.WorkStep]StepFunc
	fixers         map[scratchpad.WorkStep]retry.Fixer
	verifyAttempts int
}

// WorkerOption configures a Worker at construction time.
type WorkerOption func(*Worker)

// WithFixers attaches per-step automatic fixers; a step with a fixer must
// show fix progress before a recoverable failure is retried.
func WithFixers(fixers map[scratchpad.WorkStep]retry.Fixer) WorkerOption {
	return func(w *Worker) { w.fixers = fixers }
}

// WithVerifyAttempts overrides verification's retry budget.
func WithVerifyAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.verifyAttempts = n
		}
	}
}

// NewWorker builds a Worker bound to one retry executor and step registry.
// Callers normally share one executor (and its circuit breakers) across
// all workers in a pool.
func NewWorker(id string, executor *retry.Executor, steps map[scratchpad.WorkStep]StepFunc, opts ...WorkerOption) *Worker {
	w := &Worker{ID: id, executor: executor, steps: steps, verifyAttempts: DefaultVerifyAttempts}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// serviceKeyFor names the external-service circuit breaker key for a
// step: code/test generation and
// invocation steps call the LLM provider, branch/commit steps call git
// and the GitHub CLI.
func serviceKeyFor(step scratchpad.WorkStep) string {
	switch step {
	case scratchpad.StepContextAnalysis, scratchpad.StepCodeGeneration, scratchpad.StepTestGeneration:
		return "llm-provider"
	case scratchpad.StepBranchCreation, scratchpad.StepCommit:
		return "github-cli"
	default:
		return ""
	}
}

// Run executes wo's remaining steps, resuming from checkpoint if one
// exists (resumable steps restore in place; verification and commit
// restart from code_generation). It returns the final state
// produced by result_persistence.
func (w *Worker) Run(ctx context.Context, checkpoints retry.CheckpointStore, wo WorkOrder) (map[string]any, error) {
	start := stepOrder[0]
	state := map[string]any{}

	if checkpoints != nil {
		if cp, ok, err := checkpoints.RestoreCheckpoint(wo.ID); err == nil && ok {
			start = cp.Step.RestartStep()
			if cp.State != nil {
				state = cp.State
			}
		}
	}

	startIdx := indexOfStep(start)
	for i := startIdx; i < len(stepOrder); i++ {
		step := stepOrder[i]
		fn, ok := w.steps[step]
		if !ok {
			return nil, fmt.Errorf("workerpool: no step function registered for %q", step)
		}

		op := retry.Operation{
			Name:         string(step),
			WorkOrderID:  wo.ID,
			WorkerID:     w.ID,
			Step:         step,
			ServiceKey:   serviceKeyFor(step),
			NonRetryable: !step.Resumable(),
			Fix:          w.fixers[step],
			Run: func(ctx context.Context, _ int) (any, error) {
				return fn(ctx, wo, state)
			},
		}
		if step == scratchpad.StepVerification {
			// Non-resumable only in the crash sense (a restart goes back to
			// code_generation); in-process it retries within its own budget,
			// each retry preceded by the fixer. No backoff: the gates are
			// local commands, not a rate-limited service.
			op.NonRetryable = false
			op.Backoff = retry.BackoffConfig{MaxAttempts: w.verifyAttempts}
		}

		res := w.executor.Execute(ctx, op)
		if !res.Success {
			return state, res.Error
		}
		if next, ok := res.Data.(map[string]any); ok {
			state = next
		}
	}
	return state, nil
}

func indexOfStep(step scratchpad.WorkStep) int {
	for i, s := range stepOrder {
		if s == step {
			return i
		}
	}
	return 0
}
