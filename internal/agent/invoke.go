package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Runner is the actual agent-runtime call: given a resolved role and a
// prompt, it drives the LLM reasoning and returns its final output, the
// artifact paths it produced, and tokens consumed. The LLM reasoning
// itself, and every role's prompt/template, are out of scope;
// Runner is the seam a caller plugs a real implementation into.
type Runner interface {
	Run(ctx context.Context, role Role, prompt, correlationID string) (output string, artifacts []string, tokensUsed int, err error)
}

// Budget is the caller-supplied token/cost budget interface. Reserve is
// the pre-flight estimate check; Commit settles a reservation at its
// actual cost; Release returns a reservation that was never spent (e.g.
// the call failed before starting).
type Budget interface {
	Reserve(estimatedTokens int) error
	Commit(estimatedTokens, actualTokens int)
	Release(estimatedTokens int)
}

// Options customizes a single Invoke call.
type Options struct {
	Timeout         time.Duration // overrides the role's configured timeout
	EstimatedTokens int           // overrides the adapter's rough estimate
}

// TokenUsage reports the adapter's pre-flight estimate and the Runner's
// reported actual usage.
type TokenUsage struct {
	Estimated int
	Actual    int
}

// Response is Invoke's return shape.
type Response struct {
	CorrelationID string
	Success       bool
	Output        string
	Artifacts     []string
	TokenUsage    TokenUsage
	Error         error
}

// Adapter is the uniform entry point every agent invocation goes through.
type Adapter struct {
	registry *Registry
	runner   Runner
	budget   Budget
	newID    func() string
}

// AdapterOption configures an Adapter at construction time.
type AdapterOption func(*Adapter)

// WithBudget attaches a token/cost budget tracker.
func WithBudget(b Budget) AdapterOption {
	return func(a *Adapter) { a.budget = b }
}

// WithIDFunc overrides the correlation id generator (tests: deterministic ids).
func WithIDFunc(fn func() string) AdapterOption {
	return func(a *Adapter) { a.newID = fn }
}

// NewAdapter builds an Adapter bound to a role registry and a Runner.
func NewAdapter(registry *Registry, runner Runner, opts ...AdapterOption) *Adapter {
	a := &Adapter{registry: registry, runner: runner, newID: uuid.NewString}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke resolves roleName's posture, attaches a correlation id, enforces
// the budget, calls the Runner under a timeout, and masks secrets in the
// returned output before handing it back to the caller.
func (a *Adapter) Invoke(ctx context.Context, roleName, prompt string, opts Options) Response {
	correlationID := a.newID()
	role, ok := a.registry.Resolve(roleName)
	if !ok {
		return Response{CorrelationID: correlationID, Error: fmt.Errorf("agent: unknown role %q", roleName)}
	}

	timeout := role.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	estimate := opts.EstimatedTokens
	if estimate == 0 {
		estimate = estimateTokens(prompt)
	}

	if a.budget != nil {
		if err := a.budget.Reserve(estimate); err != nil {
			return Response{CorrelationID: correlationID, Error: fmt.Errorf("agent: budget: %w", err)}
		}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, artifacts, tokensUsed, err := a.runner.Run(cctx, role, prompt, correlationID)

	if a.budget != nil {
		if err != nil {
			a.budget.Release(estimate)
		} else {
			a.budget.Commit(estimate, tokensUsed)
		}
	}

	usage := TokenUsage{Estimated: estimate, Actual: tokensUsed}
	masked := maskSecrets(output)
	if err != nil {
		return Response{CorrelationID: correlationID, Output: masked, TokenUsage: usage, Error: fmt.Errorf("agent: invoke %s: %w", roleName, err)}
	}
	return Response{CorrelationID: correlationID, Success: true, Output: masked, Artifacts: artifacts, TokenUsage: usage}
}

// estimateTokens is a rough pre-flight token estimate (4 chars/token,
// matching the common tokenizer rule of thumb); Runner implementations
// that can report a precise provider-side estimate should pass
// Options.EstimatedTokens instead.
func estimateTokens(prompt string) int {
	n := len(prompt) / 4
	if n < 1 {
		n = 1
	}
	return n
}
