package agent

import "testing"

func TestTokenBudgetReserveExhaustion(t *testing.T) {
	b := NewTokenBudget(100)
	if err := b.Reserve(60); err != nil {
		t.Fatalf("Reserve(60): %v", err)
	}
	if err := b.Reserve(60); err == nil {
		t.Fatal("expected Reserve(60) to fail against 40 remaining")
	}
	if got := b.Remaining(); got != 40 {
		t.Fatalf("Remaining() = %d, want 40", got)
	}
}

func TestTokenBudgetCommitTruesUpOverestimate(t *testing.T) {
	b := NewTokenBudget(100)
	if err := b.Reserve(50); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	b.Commit(50, 30) // actual usage less than reserved
	if got := b.Remaining(); got != 70 {
		t.Fatalf("Remaining() = %d, want 70 after committing less than reserved", got)
	}
}

func TestTokenBudgetRelease(t *testing.T) {
	b := NewTokenBudget(100)
	if err := b.Reserve(40); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	b.Release(40)
	if got := b.Remaining(); got != 100 {
		t.Fatalf("Remaining() = %d, want 100 after full release", got)
	}
}
