package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestApprovalApproveFlow(t *testing.T) {
	model := NewApproval("prd_generation", "# PRD\ncontent")
	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m := updated.(*ApprovalModel)
	if cmd == nil {
		t.Fatalf("expected quit command after approve")
	}
	if d := m.Decision(); !d.Approved {
		t.Fatalf("decision = %+v, want approved", d)
	}
}

func TestApprovalRejectCollectsReason(t *testing.T) {
	model := NewApproval("prd_generation", "")
	// Move selection to Reject, confirm, type a reason, confirm again.
	model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.state != approvalTypingReason {
		t.Fatalf("state = %v, want typing-reason", model.state)
	}
	for _, r := range "too vague" {
		if r == ' ' {
			model.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
			continue
		}
		model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	d := model.Decision()
	if d.Approved {
		t.Fatalf("expected rejection")
	}
	if !strings.Contains(d.Reason, "too") {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestStatusViewRendersSnapshot(t *testing.T) {
	snap := StatusSnapshot{
		ProjectID:     "proj-a",
		SessionID:     "sess-1",
		Mode:          "greenfield",
		SessionStatus: "running",
		Stages: []StageLine{
			{Name: "collection", Status: "completed"},
			{Name: "prd_generation", Status: "pending-approval"},
		},
		PoolCapacity: 5,
		PoolActive:   2,
		Workers:      []WorkerLine{{ID: "worker-1", Current: "WO-001"}},
		RecentLog:    []string{"2026-01-01T00:00:00Z INFO session=sess-1 stage=collection status=completed"},
		LogTotal:     12,
	}
	model := NewStatus(func() (StatusSnapshot, error) { return snap, nil })
	updated, _ := model.Update(statusRefreshMsg{snapshot: snap})
	view := updated.(*StatusModel).View()
	for _, want := range []string{"proj-a", "sess-1", "collection", "worker-1", "capacity 5"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestStatusSurfacesLoadError(t *testing.T) {
	model := NewStatus(func() (StatusSnapshot, error) { return StatusSnapshot{}, errors.New("boom") })
	updated, _ := model.Update(statusRefreshMsg{err: errors.New("boom")})
	view := updated.(*StatusModel).View()
	if !strings.Contains(view, "boom") {
		t.Fatalf("load error not rendered:\n%s", view)
	}
}
