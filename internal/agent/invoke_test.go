package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRunner struct {
	output    string
	artifacts []string
	tokens    int
	err       error
}

func (f fakeRunner) Run(ctx context.Context, role Role, prompt, correlationID string) (string, []string, int, error) {
	return f.output, f.artifacts, f.tokens, f.err
}

type fakeBudget struct {
	reserved  int
	committed int
	released  int
	denyAfter int
}

func (b *fakeBudget) Reserve(tokens int) error {
	if b.denyAfter > 0 && b.reserved+tokens > b.denyAfter {
		return errors.New("budget exhausted")
	}
	b.reserved += tokens
	return nil
}
func (b *fakeBudget) Commit(estimated, actual int) { b.committed += actual }
func (b *fakeBudget) Release(tokens int) { b.released += tokens }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := &Registry{roles: map[string]Role{}}
	r.Register(Role{Name: "implementer", Model: ModelSonnet, Timeout: time.Minute})
	return r
}

func TestInvokeSuccess(t *testing.T) {
	reg := testRegistry(t)
	runner := fakeRunner{output: "looks good", artifacts: []string{"a.go"}, tokens: 42}
	budget := &fakeBudget{}
	adapter := NewAdapter(reg, runner, WithBudget(budget), WithIDFunc(func() string { return "corr-1" }))

	resp := adapter.Invoke(context.Background(), "implementer", "do the thing", Options{})
	if !resp.Success {
		t.Fatalf("expected success, got error %v", resp.Error)
	}
	if resp.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q", resp.CorrelationID)
	}
	if len(resp.Artifacts) != 1 || resp.Artifacts[0] != "a.go" {
		t.Fatalf("artifacts = %v", resp.Artifacts)
	}
	if budget.committed != 42 {
		t.Fatalf("budget committed = %d, want 42", budget.committed)
	}
}

func TestInvokeUnknownRole(t *testing.T) {
	reg := testRegistry(t)
	adapter := NewAdapter(reg, fakeRunner{})
	resp := adapter.Invoke(context.Background(), "ghost-writer", "x", Options{})
	if resp.Success || resp.Error == nil {
		t.Fatalf("expected failure for unknown role, got %+v", resp)
	}
}

func TestInvokeBudgetDenied(t *testing.T) {
	reg := testRegistry(t)
	budget := &fakeBudget{denyAfter: 1}
	adapter := NewAdapter(reg, fakeRunner{output: "x"}, WithBudget(budget))
	resp := adapter.Invoke(context.Background(), "implementer", "a much longer prompt than one token", Options{})
	if resp.Success || resp.Error == nil {
		t.Fatalf("expected budget denial, got %+v", resp)
	}
}

func TestInvokeRunnerErrorReleasesBudget(t *testing.T) {
	reg := testRegistry(t)
	budget := &fakeBudget{}
	adapter := NewAdapter(reg, fakeRunner{err: errors.New("boom")}, WithBudget(budget))
	resp := adapter.Invoke(context.Background(), "implementer", "prompt", Options{EstimatedTokens: 10})
	if resp.Success {
		t.Fatalf("expected failure")
	}
	if budget.released != 10 {
		t.Fatalf("released = %d, want 10", budget.released)
	}
	if budget.committed != 0 {
		t.Fatalf("committed = %d, want 0", budget.committed)
	}
}

func TestMaskSecrets(t *testing.T) {
	in := "use key sk-ant-abcdefghijklmnop and token ghp_ABCDEFGHIJKLMNOPQRSTUVWXYZ01 please"
	out := maskSecrets(in)
	if out == in {
		t.Fatalf("expected secrets to be masked, got %q", out)
	}
}
