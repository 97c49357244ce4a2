// Package scratchpad implements the file-based state store that is the
// only IPC channel between isolated agent invocations. Every
// section lives at a canonical relative path under the project's
// scratchpad root; writes are atomic (temp-file + rename), validated
// against a declared schema, and optionally appended to a bounded history
// ring.
package scratchpad

import (
	"errors"
	"fmt"
	"time"
)

// Format names the on-disk serialization for a section.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Section names a canonical slot in the scratchpad tree. The path map is
// part of the public contract: renaming a Section's Path is a breaking
// change.
type Section struct {
	ID       string
	Format   Format
	Required bool
	// Path resolves the file path for a given project id, relative to the
	// scratchpad root.
	Path func(projectID string) string
}

// Canonical sections of the persisted layout.
var (
	SectionCollectedInfo = Section{ID: "collected_info", Format: FormatYAML, Required: true,
		Path: func(pid string) string { return join("info", pid, "collected_info.yaml") }}
	SectionPRD = Section{ID: "prd", Format: FormatMarkdown, Required: true,
		Path: func(pid string) string { return join("documents", pid, "prd.md") }}
	SectionSRS = Section{ID: "srs", Format: FormatMarkdown,
		Path: func(pid string) string { return join("documents", pid, "srs.md") }}
	SectionSDS = Section{ID: "sds", Format: FormatMarkdown,
		Path: func(pid string) string { return join("documents", pid, "sds.md") }}
	SectionIssueList = Section{ID: "issue_list", Format: FormatJSON,
		Path: func(pid string) string { return join("issues", pid, "issue_list.json") }}
	SectionDependencyGraph = Section{ID: "dependency_graph", Format: FormatJSON,
		Path: func(pid string) string { return join("issues", pid, "dependency_graph.json") }}
	SectionControllerState = Section{ID: "controller_state", Format: FormatYAML,
		Path: func(pid string) string { return join("progress", pid, "controller_state.yaml") }}
)

func join(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "/" + p
	}
	return out
}

// Envelope wraps a section's payload with the provenance metadata every
// persisted value carries.
type Envelope struct {
	SchemaVersion int               `yaml:"schema_version" json:"schema_version"`
	ProjectID     string            `yaml:"project_id" json:"project_id"`
	SectionID     string            `yaml:"section_id" json:"section_id"`
	CreatedAt     time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `yaml:"updated_at" json:"updated_at"`
	Notes         map[string]string `yaml:"notes,omitempty" json:"notes,omitempty"`
	Body          string            `yaml:"body" json:"body"`
}

// ProjectMode selects which stage DAG a project runs.
type ProjectMode string

const (
	ModeGreenfield  ProjectMode = "greenfield"
	ModeEnhancement ProjectMode = "enhancement"
	ModeImport      ProjectMode = "import"
)

// ProjectState is one node of the lifecycle state machine.
type ProjectState string

const (
	StateCollecting      ProjectState = "collecting"
	StateClarifying      ProjectState = "clarifying"
	StatePRDDrafting     ProjectState = "prd_drafting"
	StatePRDApproved     ProjectState = "prd_approved"
	StateSRSDrafting     ProjectState = "srs_drafting"
	StateSRSApproved     ProjectState = "srs_approved"
	StateSDSDrafting     ProjectState = "sds_drafting"
	StateSDSApproved     ProjectState = "sds_approved"
	StateIssuesCreating  ProjectState = "issues_creating"
	StateIssuesCreated   ProjectState = "issues_created"
	StateImplementing    ProjectState = "implementing"
	StatePRReview        ProjectState = "pr_review"
	StateMerged          ProjectState = "merged"
	StateCancelled       ProjectState = "cancelled"
)

// Terminal reports whether a state has no outgoing transitions.
func (s ProjectState) Terminal() bool {
	return s == StateMerged || s == StateCancelled
}

// TransitionTrigger names why a state transition happened.
type TransitionTrigger string

const (
	TriggerNormal   TransitionTrigger = "normal"
	TriggerRecovery TransitionTrigger = "recovery"
	TriggerSkip     TransitionTrigger = "skip"
	TriggerAdmin    TransitionTrigger = "admin"
	TriggerResume   TransitionTrigger = "resume"
)

// TransitionRecord is the state-machine audit entry.
type TransitionRecord struct {
	ProjectID  string            `yaml:"project_id" json:"project_id"`
	From       ProjectState      `yaml:"from" json:"from"`
	To         ProjectState      `yaml:"to" json:"to"`
	Timestamp  time.Time         `yaml:"timestamp" json:"timestamp"`
	Trigger    TransitionTrigger `yaml:"trigger" json:"trigger"`
	Actor      string            `yaml:"actor" json:"actor"`
	Reason     string            `yaml:"reason,omitempty" json:"reason,omitempty"`
	ApprovedBy string            `yaml:"approved_by,omitempty" json:"approved_by,omitempty"`
}

// Project is the scratchpad's root entity.
type Project struct {
	ID        string       `yaml:"id" json:"id"`
	Name      string       `yaml:"name" json:"name"`
	Mode      ProjectMode  `yaml:"mode" json:"mode"`
	State     ProjectState `yaml:"state" json:"state"`
	CreatedAt time.Time    `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time    `yaml:"updated_at" json:"updated_at"`
	Documents []string     `yaml:"documents,omitempty" json:"documents,omitempty"`
	RepoURL   string       `yaml:"repo_url,omitempty" json:"repo_url,omitempty"`
}

// Sentinel failure modes.
var (
	ErrNotFound           = errors.New("scratchpad: not found")
	ErrSchemaValidation   = errors.New("scratchpad: SCHEMA_VALIDATION")
	ErrLockTimeout        = errors.New("scratchpad: LOCK_TIMEOUT")
	ErrInvalidTransition  = errors.New("scratchpad: INVALID_TRANSITION")
	ErrRequiredSkip       = errors.New("scratchpad: REQUIRED_SKIP")
	ErrCorruptState       = errors.New("scratchpad: CORRUPT_STATE")
	ErrSchemaMismatch     = errors.New("scratchpad: SCHEMA_MISMATCH")
)

// NotFoundError names the section/project a NOT_FOUND applies to.
type NotFoundError struct {
	Section   string
	ProjectID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scratchpad: section %q for project %q: %v", e.Section, e.ProjectID, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
