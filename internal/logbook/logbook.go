// Package logbook keeps the human-readable narrative of a pipeline run:
// one flat text file per project a person can cat to see which stages ran,
// which gates were approved, and where a session paused. It complements
// the structured operational log: this file is for humans, that one is
// for filtering.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook persists pipeline progress to a simple text file.
type Logbook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WithClock overrides the timestamp source, for deterministic tests.
func (l *Logbook) WithClock(now func() time.Time) *Logbook {
	if l != nil && now != nil {
		l.now = now
	}
	return l
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		l.now().Format(time.RFC3339),
		string(level),
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries plus the total
// entry count, so a status display can show "last 3 of 120".
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total == 0 {
		return nil, 0
	}
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}

// StageResult records one stage outcome in a session.
func (l *Logbook) StageResult(sessionID, stage, status string) {
	level := LevelInfo
	if status == "failed" {
		level = LevelError
	}
	l.Append(level, fmt.Sprintf("session=%s stage=%s status=%s", sessionID, stage, status))
}

// Transition records a project lifecycle state change.
func (l *Logbook) Transition(projectID, from, to, trigger, actor string) {
	l.Append(LevelInfo, fmt.Sprintf("project=%s transition %s -> %s (trigger=%s actor=%s)", projectID, from, to, trigger, actor))
}

// Gate records an approval-gate decision.
func (l *Logbook) Gate(sessionID, stage string, approved bool, by, reason string) {
	verdict := "approved"
	level := LevelInfo
	if !approved {
		verdict = "rejected"
		level = LevelWarn
	}
	l.Append(level, fmt.Sprintf("session=%s gate=%s %s by=%s reason=%s", sessionID, stage, verdict, by, reason))
}

// Escalation records a terminal retry failure.
func (l *Logbook) Escalation(taskID, category, recommendation string) {
	l.Append(LevelError, fmt.Sprintf("escalation task=%s category=%s: %s", taskID, category, recommendation))
}
