package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/config"
)

// SessionStatus tracks one pipeline execution.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// StageStatus is a StageResult's outcome.
type StageStatus string

const (
	StageCompleted       StageStatus = "completed"
	StageFailed          StageStatus = "failed"
	StageSkipped         StageStatus = "skipped"
	StagePendingApproval StageStatus = "pending-approval"
)

// StageResult is the outcome of one agent stage within a session.
type StageResult struct {
	Stage     string      `yaml:"stage"`
	Role      string      `yaml:"role"`
	Status    StageStatus `yaml:"status"`
	StartedAt time.Time   `yaml:"started_at"`
	EndedAt   time.Time   `yaml:"ended_at,omitempty"`
	Artifacts []string    `yaml:"artifacts,omitempty"`
	Output    string      `yaml:"output,omitempty"`
	Error     string      `yaml:"error,omitempty"`
}

// Session is one execution of the pipeline for a project.
// Sessions are append-only: a resumed session references ParentSessionID
// but is itself a new entity.
type Session struct {
	ID              string        `yaml:"id"`
	ProjectID       string        `yaml:"project_id"`
	ParentSessionID string        `yaml:"parent_session_id,omitempty"`
	StartedAt       time.Time     `yaml:"started_at"`
	Mode            Mode          `yaml:"mode"`
	Status          SessionStatus `yaml:"status"`
	Stages          []StageResult `yaml:"stages"`
	PreCompleted    []string      `yaml:"pre_completed,omitempty"`
	PendingGate     string        `yaml:"pending_gate,omitempty"`
	PausedReason    string        `yaml:"paused_reason,omitempty"`
}

// completedSet returns the set of stage names this session has completed,
// for topological-readiness checks.
func (s Session) completedSet() map[string]bool {
	set := make(map[string]bool, len(s.Stages)+len(s.PreCompleted))
	for _, name := range s.PreCompleted {
		set[name] = true
	}
	for _, sr := range s.Stages {
		if sr.Status == StageCompleted || sr.Status == StageSkipped {
			set[sr.Stage] = true
		}
	}
	return set
}

// sessionStore persists Sessions under
// scratchpad/progress/{projectId}/sessions/{sessionId}.yaml, atomically.
type sessionStore struct {
	cfg *config.Config
}

func newSessionStore(cfg *config.Config) *sessionStore { return &sessionStore{cfg: cfg} }

func (s *sessionStore) dir(projectID string) string {
	return filepath.Join(s.cfg.ProgressDir(projectID), "sessions")
}

func (s *sessionStore) path(projectID, sessionID string) string {
	return filepath.Join(s.dir(projectID), sessionID+".yaml")
}

func (s *sessionStore) save(sess Session) error {
	data, err := yaml.Marshal(sess)
	if err != nil {
		return fmt.Errorf("orchestrator: encode session: %w", err)
	}
	path := s.path(sess.ProjectID, sess.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("orchestrator: mkdir: %w", err)
	}
	return atomicWrite(path, data)
}

func (s *sessionStore) load(projectID, sessionID string) (Session, error) {
	data, err := os.ReadFile(s.path(projectID, sessionID))
	if err != nil {
		return Session{}, fmt.Errorf("orchestrator: load session %s: %w", sessionID, err)
	}
	var sess Session
	if err := yaml.Unmarshal(data, &sess); err != nil {
		return Session{}, fmt.Errorf("orchestrator: decode session %s: %w", sessionID, err)
	}
	return sess, nil
}

// list returns every session id for a project, most recent first.
func (s *sessionStore) list(projectID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: list sessions: %w", err)
	}
	type sessionFile struct {
		id  string
		mod time.Time
	}
	var files []sessionFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		name := e.Name()
		files = append(files, sessionFile{id: name[:len(name)-len(filepath.Ext(name))], mod: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	var ids []string
	for _, f := range files {
		ids = append(ids, f.id)
	}
	return ids, nil
}

func newSessionID() string { return "sess-" + uuid.NewString() }

// atomicWrite mirrors internal/scratchpad's temp-file+rename write; kept
// local since session files live in a dir scratchpad.Store doesn't know
// about: sessions are the execution ledger, not a document artifact.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("orchestrator: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("orchestrator: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("orchestrator: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("orchestrator: close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
