// Package tui holds the interactive terminal views: the approval-gate
// prompt the pipeline pauses on, and the status dashboard. Both follow
// the Elm-style Model/Update/View cycle bubbletea imposes.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Decision is the outcome of an approval prompt.
type Decision struct {
	Approved bool
	Reason   string
}

type approvalChoice struct {
	title string
	desc  string
}

func (c approvalChoice) Title() string       { return c.title }
func (c approvalChoice) Description() string { return c.desc }
func (c approvalChoice) FilterValue() string { return c.title }

type approvalState int

const (
	approvalChoosing approvalState = iota
	approvalTypingReason
	approvalDone
)

// ApprovalModel prompts for an approve/reject decision on one gate stage.
type ApprovalModel struct {
	Stage   string
	Preview string

	state    approvalState
	menu     list.Model
	reason   strings.Builder
	decision Decision
	quitting bool
}

// NewApproval builds the prompt for a pending gate. preview is the gated
// stage's output text, truncated for display.
func NewApproval(stage, preview string) *ApprovalModel {
	items := []list.Item{
		approvalChoice{title: "Approve", desc: "record approval and continue the pipeline"},
		approvalChoice{title: "Reject", desc: "demote the stage and rerun it"},
	}
	menu := list.New(items, list.NewDefaultDelegate(), 48, 10)
	menu.Title = fmt.Sprintf("Approval gate: %s", stage)
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)
	menu.SetShowHelp(false)
	return &ApprovalModel{Stage: stage, Preview: preview, menu: menu}
}

// Decision returns the recorded outcome once the program has quit.
func (m *ApprovalModel) Decision() Decision { return m.decision }

// Init implements tea.Model.
func (m *ApprovalModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m *ApprovalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.menu.SetSize(max(20, msg.Width-4), max(8, msg.Height-12))
		return m, nil
	case tea.KeyMsg:
		switch m.state {
		case approvalChoosing:
			switch msg.String() {
			case "ctrl+c", "q":
				m.decision = Decision{Approved: false, Reason: "prompt dismissed"}
				m.quitting = true
				return m, tea.Quit
			case "enter":
				if choice, ok := m.menu.SelectedItem().(approvalChoice); ok {
					if choice.title == "Approve" {
						m.decision = Decision{Approved: true}
						m.state = approvalDone
						m.quitting = true
						return m, tea.Quit
					}
					m.state = approvalTypingReason
					return m, nil
				}
			}
			var cmd tea.Cmd
			m.menu, cmd = m.menu.Update(msg)
			return m, cmd
		case approvalTypingReason:
			switch msg.String() {
			case "ctrl+c":
				m.decision = Decision{Approved: false, Reason: "prompt dismissed"}
				m.quitting = true
				return m, tea.Quit
			case "esc":
				m.state = approvalChoosing
				m.reason.Reset()
				return m, nil
			case "enter":
				reason := strings.TrimSpace(m.reason.String())
				if reason == "" {
					reason = "rejected at approval gate"
				}
				m.decision = Decision{Approved: false, Reason: reason}
				m.state = approvalDone
				m.quitting = true
				return m, tea.Quit
			case "backspace":
				current := m.reason.String()
				if len(current) > 0 {
					m.reason.Reset()
					m.reason.WriteString(current[:len(current)-1])
				}
				return m, nil
			default:
				if msg.Type == tea.KeyRunes {
					m.reason.WriteString(string(msg.Runes))
				} else if msg.Type == tea.KeySpace {
					m.reason.WriteString(" ")
				}
				return m, nil
			}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *ApprovalModel) View() string {
	if m.quitting {
		return ""
	}
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)

	var body string
	switch m.state {
	case approvalTypingReason:
		body = lipgloss.JoinVertical(lipgloss.Left,
			head.Render(fmt.Sprintf("Rejecting %s", m.Stage)),
			"Reason: "+m.reason.String()+"_",
			dim.Render("enter to confirm · esc to go back"),
		)
	default:
		body = m.menu.View()
	}

	preview := ""
	if m.Preview != "" {
		preview = box.Render(dim.Render(truncateLines(m.Preview, 12)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, preview)
}

func truncateLines(text string, maxLines int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}
	return strings.Join(lines, "\n")
}

// RunApproval blocks on an interactive approve/reject prompt.
func RunApproval(stage, preview string) (Decision, error) {
	model := NewApproval(stage, preview)
	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return Decision{}, err
	}
	return model.Decision(), nil
}
