package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

// DefaultTimeout is the per-attempt timeout applied when an Operation does
// not override it.
const DefaultTimeout = 10 * time.Minute

// WorkStep reuses internal/scratchpad's worker step taxonomy so checkpoints
// created here are interchangeable with ones restored through the
// scratchpad directly.
type WorkStep = scratchpad.WorkStep

// Checkpoint reuses internal/scratchpad's Checkpoint type.
type Checkpoint = scratchpad.Checkpoint

// CheckpointStore is the narrow slice of internal/scratchpad's Store that
// the executor needs to persist and resume work-order progress between
// steps.
type CheckpointStore interface {
	CreateCheckpoint(workOrderID string, step WorkStep, attempt int, state map[string]any) (Checkpoint, error)
	RestoreCheckpoint(workOrderID string) (Checkpoint, bool, error)
	ClearCheckpoint(workOrderID string) error
}

// Fixer attempts to repair a recoverable failure (e.g. rerun a linter with
// auto-fix) and reports whether it made forward progress. Operations that
// can return CategoryRecoverable errors should supply one; without a fixer,
// a recoverable error is retried with backoff like a transient one, but
// never more than once.
type Fixer func(ctx context.Context, err error) (progressed bool, fixErr error)

// Operation is one unit of retryable work. Implementations return a
// *CategorizedError (via Transient,
// Recoverable, or Fatal) so the layer knows how to respond; any other
// error is treated as Fatal.
type Operation struct {
	Name         string
	WorkOrderID  string
	WorkerID     string   // worker slot executing this operation, carried into EscalationReport
	Step         WorkStep // worker step this operation belongs to, for checkpoint labeling
	ServiceKey   string   // external-service key for circuit breaking; empty disables breaking
	Timeout      time.Duration
	Backoff      BackoffConfig
	NonRetryable bool // forces a single attempt regardless of category
	Fix          Fixer
	Run          func(ctx context.Context, attempt int) (any, error)
}

// Result is Execute's return value.
type Result struct {
	Success    bool
	Data       any
	Attempts   int
	DurationMs int64
	Error      error
}

// Executor runs Operations with categorised retry, full-jitter backoff,
// per-service circuit breaking, timeouts, checkpoint persistence, and
// escalation reporting.
type Executor struct {
	checkpoints CheckpointStore
	breakers    *breakers
	escalate    EscalationCallback
	now         func() time.Time
	rng         *rand.Rand
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithClock overrides the executor's time source (tests).
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithBreakerConfig overrides the circuit breaker defaults.
func WithBreakerConfig(cfg BreakerConfig) ExecutorOption {
	return func(e *Executor) { e.breakers = newBreakers(cfg) }
}

// WithRand overrides the jitter source (tests: deterministic backoff).
func WithRand(rng *rand.Rand) ExecutorOption {
	return func(e *Executor) { e.rng = rng }
}

// NewExecutor constructs an Executor. checkpoints and escalate may be nil;
// a nil checkpoints disables checkpoint persistence, a nil escalate drops
// EscalationReports silently (callers should normally supply one).
func NewExecutor(checkpoints CheckpointStore, escalate EscalationCallback, opts ...ExecutorOption) *Executor {
	e := &Executor{
		checkpoints: checkpoints,
		breakers:    newBreakers(DefaultBreakerConfig()),
		escalate:    escalate,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op to completion, retrying categorised failures, and
// returns a Result. A panic in Run is not recovered here; programmer
// errors should crash rather than be swallowed.
func (e *Executor) Execute(ctx context.Context, op Operation) Result {
	start := e.now()
	backoff := op.Backoff
	if backoff == (BackoffConfig{}) {
		backoff = DefaultBackoff()
	}
	maxAttempts := backoff.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if op.NonRetryable {
		maxAttempts = 1
	}

	timeout := op.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var cb breakerGate = noopGate{}
	if op.ServiceKey != "" {
		cb = e.breakers.get(op.ServiceKey)
	}

	var attempts []AttemptLog
	var lastErr *CategorizedError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptStart := e.now()
		data, err := e.runOnce(ctx, op, attempt, timeout, cb)
		duration := e.now().Sub(attemptStart)

		if err == nil {
			attempts = append(attempts, AttemptLog{Attempt: attempt, Category: "", Duration: duration, Timestamp: attemptStart})
			e.clearCheckpoint(op.WorkOrderID)
			return Result{Success: true, Data: data, Attempts: attempt, DurationMs: time.Since(start).Milliseconds()}
		}

		ce := categorize(err)
		lastErr = ce
		attempts = append(attempts, AttemptLog{Attempt: attempt, Category: ce.Category, Error: ce.Error(), Duration: duration, Timestamp: attemptStart})
		e.checkpoint(op, attempt, ce)

		if !e.shouldRetry(ctx, op, ce, attempt, maxAttempts) {
			break
		}
		e.sleep(ctx, backoff.delay(attempt, e.rng))
	}

	taskID := op.WorkOrderID
	if taskID == "" {
		taskID = op.Name
	}
	report := newEscalation(taskID, op.WorkerID, lastErr, attempts, nil, e.now())
	if e.escalate != nil {
		_ = e.escalate(report)
	}
	return Result{
		Success:    false,
		Attempts:   len(attempts),
		DurationMs: time.Since(start).Milliseconds(),
		Error:      fmt.Errorf("retry: %s: exhausted %d attempt(s): %w", op.Name, len(attempts), lastErr),
	}
}

func (e *Executor) runOnce(ctx context.Context, op Operation, attempt int, timeout time.Duration, cb breakerGate) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := cb.Execute(func() (any, error) {
		return op.Run(attemptCtx, attempt)
	})
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			if op.NonRetryable {
				return nil, Fatal(fmt.Errorf("%s: timed out after %s", op.Name, timeout))
			}
			return nil, Transient(fmt.Errorf("%s: timed out after %s", op.Name, timeout))
		}
		if errIsBreakerOpen(err) {
			return nil, wrapBreakerError(op.ServiceKey, err)
		}
	}
	return data, err
}

func (e *Executor) shouldRetry(ctx context.Context, op Operation, ce *CategorizedError, attempt, maxAttempts int) bool {
	if op.NonRetryable || !ce.Retryable || ce.Category == CategoryFatal {
		return false
	}
	if attempt >= maxAttempts {
		return false
	}
	if ce.Category == CategoryRecoverable && op.Fix == nil && attempt >= 2 {
		return false
	}
	if ce.Category == CategoryRecoverable && op.Fix != nil {
		progressed, fixErr := op.Fix(ctx, ce)
		if fixErr != nil || !progressed {
			return false
		}
	}
	return true
}

func (e *Executor) checkpoint(op Operation, attempt int, ce *CategorizedError) {
	if e.checkpoints == nil || op.WorkOrderID == "" {
		return
	}
	step := op.Step
	if step == "" {
		step = "retry_failure"
	}
	_, _ = e.checkpoints.CreateCheckpoint(op.WorkOrderID, step, attempt, map[string]any{
		"operation": op.Name,
		"category":  string(ce.Category),
		"error":     ce.Error(),
	})
}

func (e *Executor) clearCheckpoint(workOrderID string) {
	if e.checkpoints == nil || workOrderID == "" {
		return
	}
	_ = e.checkpoints.ClearCheckpoint(workOrderID)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
