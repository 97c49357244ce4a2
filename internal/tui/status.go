package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const statusRefreshInterval = 3 * time.Second

// StageLine is one row of the stage table.
type StageLine struct {
	Name   string
	Status string
}

// WorkerLine is one row of the worker-pool panel.
type WorkerLine struct {
	ID      string
	Current string
}

// StatusSnapshot is everything the dashboard renders on one refresh.
type StatusSnapshot struct {
	ProjectID     string
	SessionID     string
	Mode          string
	SessionStatus string
	PendingGate   string
	PausedReason  string
	Stages        []StageLine
	PoolCapacity  int
	PoolActive    int
	Workers       []WorkerLine
	RecentLog     []string
	LogTotal      int
}

// SnapshotLoader produces a fresh StatusSnapshot from disk. The dashboard
// owns no file paths of its own; the caller closes over config.
type SnapshotLoader func() (StatusSnapshot, error)

type statusRefreshMsg struct {
	snapshot StatusSnapshot
	err      error
}

type statusTickMsg struct{}

// StatusModel renders the session + worker-pool dashboard.
type StatusModel struct {
	loader   SnapshotLoader
	snapshot StatusSnapshot
	loadErr  string
	width    int
	quitting bool
}

// NewStatus builds the dashboard around a loader.
func NewStatus(loader SnapshotLoader) *StatusModel {
	return &StatusModel{loader: loader, width: 80}
}

// Init implements tea.Model.
func (m *StatusModel) Init() tea.Cmd {
	return m.refresh()
}

func (m *StatusModel) refresh() tea.Cmd {
	loader := m.loader
	return func() tea.Msg {
		snap, err := loader()
		return statusRefreshMsg{snapshot: snap, err: err}
	}
}

func (m *StatusModel) scheduleRefresh() tea.Cmd {
	return tea.Tick(statusRefreshInterval, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}

// Update implements tea.Model.
func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case statusTickMsg:
		return m, m.refresh()
	case statusRefreshMsg:
		if msg.err != nil {
			m.loadErr = msg.err.Error()
			return m, m.scheduleRefresh()
		}
		m.loadErr = ""
		m.snapshot = msg.snapshot
		return m, m.scheduleRefresh()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *StatusModel) View() string {
	if m.quitting {
		return ""
	}
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	warn := lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)

	s := m.snapshot
	header := head.Render(fmt.Sprintf("project %s · session %s · %s · %s",
		orDash(s.ProjectID), orDash(s.SessionID), orDash(s.Mode), orDash(s.SessionStatus)))

	var stageRows []string
	for _, st := range s.Stages {
		marker := "·"
		switch st.Status {
		case "completed":
			marker = "✓"
		case "failed":
			marker = "✗"
		case "pending-approval":
			marker = "?"
		}
		stageRows = append(stageRows, fmt.Sprintf("%s %-24s %s", marker, st.Name, st.Status))
	}
	if len(stageRows) == 0 {
		stageRows = append(stageRows, dim.Render("no stages recorded"))
	}
	stagePanel := box.Render(lipgloss.JoinVertical(lipgloss.Left,
		append([]string{head.Render("Stages")}, stageRows...)...))

	var workerRows []string
	workerRows = append(workerRows, fmt.Sprintf("capacity %d · active %d", s.PoolCapacity, s.PoolActive))
	for _, w := range s.Workers {
		workerRows = append(workerRows, fmt.Sprintf("%-10s %s", w.ID, w.Current))
	}
	workerPanel := box.Render(lipgloss.JoinVertical(lipgloss.Left,
		append([]string{head.Render("Worker pool")}, workerRows...)...))

	var extras []string
	if s.PendingGate != "" {
		extras = append(extras, warn.Render(fmt.Sprintf("awaiting approval: %s", s.PendingGate)))
	}
	if s.PausedReason != "" {
		extras = append(extras, dim.Render("paused: "+s.PausedReason))
	}
	if m.loadErr != "" {
		extras = append(extras, warn.Render("load error: "+m.loadErr))
	}

	var logRows []string
	logRows = append(logRows, head.Render(fmt.Sprintf("Log (last %d of %d)", len(s.RecentLog), s.LogTotal)))
	for _, line := range s.RecentLog {
		logRows = append(logRows, dim.Render(line))
	}
	logPanel := box.Render(lipgloss.JoinVertical(lipgloss.Left, logRows...))

	footer := dim.Render("r refresh · q quit")
	parts := []string{header, lipgloss.JoinHorizontal(lipgloss.Top, stagePanel, workerPanel)}
	parts = append(parts, extras...)
	parts = append(parts, logPanel, footer)
	return strings.Join(parts, "\n")
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}

// RunStatus blocks on the interactive dashboard until the user quits.
func RunStatus(loader SnapshotLoader) error {
	p := tea.NewProgram(NewStatus(loader), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
