// Package config handles the .ad-sdlc directory structure and the
// workflow.yaml/agents.yaml configuration files that govern a pipeline run.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AdSDLCDir is the name of the directory created in each project root.
const AdSDLCDir = ".ad-sdlc"

const defaultWorkflowYAML = `# AD-SDLC workflow configuration
version: 1
max_workers: 5
skip_approval: false
approval_gates:
  - post-collection
  - post-prd
  - post-srs
  - post-sds
  - post-issue-generation
  - pre-merge
pr_review:
  capacity: 2
  share_pool: false
timeouts:
  agent_invocation: 10m
  command_execution: 5m
  ci_wait: 10m
retry:
  max_attempts: 3
  base_backoff: 5s
  max_backoff: 60s
circuit_breaker:
  failure_threshold: 5
  open_timeout: 60s
event_bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
`

const defaultAgentsYAML = `# AD-SDLC agent role configuration
roles:
  collector:
    model: sonnet
    tools: [read, write]
    timeout: 10m
  prd-writer:
    model: opus
    tools: [read, write]
    timeout: 10m
  srs-writer:
    model: opus
    tools: [read, write]
    timeout: 10m
  sds-writer:
    model: opus
    tools: [read, write]
    timeout: 10m
  issue-generator:
    model: sonnet
    tools: [read, write, gh]
    timeout: 10m
  implementer:
    model: sonnet
    tools: [read, write, git, gh, shell]
    timeout: 10m
  pr-reviewer:
    model: sonnet
    tools: [read, gh]
    timeout: 10m
`

// WorkflowConfig models .ad-sdlc/config/workflow.yaml.
type WorkflowConfig struct {
	Version        int               `yaml:"version"`
	MaxWorkers     int               `yaml:"max_workers"`
	SkipApproval   bool              `yaml:"skip_approval"`
	ApprovalGates  []string          `yaml:"approval_gates"`
	PRReview       PRReviewConfig    `yaml:"pr_review"`
	Timeouts       TimeoutConfig     `yaml:"timeouts"`
	Retry          RetryConfig       `yaml:"retry"`
	CircuitBreaker CircuitBreakerCfg `yaml:"circuit_breaker"`
	EventBridge    EventBridgeCfg    `yaml:"event_bridge"`
}

// EventBridgeCfg configures the local HTTP bridge agent subprocesses post
// artifact-change events to. A port of 0 (or none) here means the default
// port 8765; only the ADSDLC_BRIDGE_PORT=0 override binds an ephemeral port.
type EventBridgeCfg struct {
	Enabled *bool  `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// PRReviewConfig controls whether PR-review workers share the main pool.
type PRReviewConfig struct {
	Capacity  int  `yaml:"capacity"`
	SharePool bool `yaml:"share_pool"`
}

// TimeoutConfig bounds agent invocations, command execution, and CI waits.
type TimeoutConfig struct {
	AgentInvocation  string `yaml:"agent_invocation"`
	CommandExecution string `yaml:"command_execution"`
	CIWait           string `yaml:"ci_wait"`
}

// RetryConfig configures the retry layer's transient-error backoff.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseBackoff string `yaml:"base_backoff"`
	MaxBackoff  string `yaml:"max_backoff"`
}

// CircuitBreakerCfg configures the per-service circuit breakers.
type CircuitBreakerCfg struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	OpenTimeout      string `yaml:"open_timeout"`
}

// AgentRoleConfig describes one role's invocation posture.
type AgentRoleConfig struct {
	Model   string   `yaml:"model"`
	Tools   []string `yaml:"tools"`
	Timeout string   `yaml:"timeout"`
}

// AgentsConfig models .ad-sdlc/config/agents.yaml.
type AgentsConfig struct {
	Roles map[string]AgentRoleConfig `yaml:"roles"`
	// Command names the external agent-runtime executable (and fixed
	// leading args) the CLI shells out to for every stage invocation; the
	// actual LLM reasoning lives outside this process, treated the same
	// opaque-subprocess way as git/gh.
	// ADSDLC_AGENT_CMD overrides this at runtime (space-separated).
	Command []string `yaml:"command"`
}

// Config is the resolved runtime configuration for one project.
type Config struct {
	ProjectDir string
	RootDir    string // ProjectDir/.ad-sdlc
	Workflow   WorkflowConfig
	Agents     AgentsConfig
}

// InitProjectDir creates the .ad-sdlc directory tree (scratchpad + config +
// logs) idempotently. Calling it twice leaves disk state unchanged.
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, AdSDLCDir)
	dirs := []string{
		filepath.Join(root, "config"),
		filepath.Join(root, "scratchpad", "info"),
		filepath.Join(root, "scratchpad", "documents"),
		filepath.Join(root, "scratchpad", "issues"),
		filepath.Join(root, "scratchpad", "progress"),
		filepath.Join(root, "scratchpad", "checkpoints"),
		filepath.Join(root, "scratchpad", "history"),
		filepath.Join(root, "logs"),
		filepath.Join(root, "agents"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if err := ensureFile(filepath.Join(root, "config", "workflow.yaml"), defaultWorkflowYAML); err != nil {
		return err
	}
	if err := ensureFile(filepath.Join(root, "config", "agents.yaml"), defaultAgentsYAML); err != nil {
		return err
	}
	return nil
}

// NewConfig loads the configuration for a project, applying env var
// overrides for MAX_WORKERS, SKIP_APPROVAL, and LOG_LEVEL (read by the
// caller via os.Getenv("LOG_LEVEL"), not stored here).
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		RootDir:    filepath.Join(projectDir, AdSDLCDir),
		Workflow:   defaultWorkflowConfig(),
		Agents:     AgentsConfig{Roles: map[string]AgentRoleConfig{}},
	}
	if err := cfg.loadWorkflow(); err != nil {
		return nil, err
	}
	if err := cfg.loadAgents(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func defaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Version:      1,
		MaxWorkers:   5,
		ApprovalGates: []string{"post-collection", "post-prd", "post-srs", "post-sds", "post-issue-generation", "pre-merge"},
		PRReview:     PRReviewConfig{Capacity: 2},
		Timeouts: TimeoutConfig{
			AgentInvocation:  "10m",
			CommandExecution: "5m",
			CIWait:           "10m",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: "5s",
			MaxBackoff:  "60s",
		},
		CircuitBreaker: CircuitBreakerCfg{
			FailureThreshold: 5,
			OpenTimeout:      "60s",
		},
	}
}

func (c *Config) loadWorkflow() error {
	path := c.WorkflowConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed WorkflowConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Workflow = parsed
	return nil
}

func (c *Config) loadAgents() error {
	path := c.AgentsConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed AgentsConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if parsed.Roles == nil {
		parsed.Roles = map[string]AgentRoleConfig{}
	}
	c.Agents = parsed
	return nil
}

func (wc *WorkflowConfig) applyDefaults() {
	if wc.Version == 0 {
		wc.Version = 1
	}
	if wc.MaxWorkers == 0 {
		wc.MaxWorkers = 5
	}
	if wc.PRReview.Capacity == 0 {
		wc.PRReview.Capacity = 2
	}
	if wc.Timeouts.AgentInvocation == "" {
		wc.Timeouts.AgentInvocation = "10m"
	}
	if wc.Timeouts.CommandExecution == "" {
		wc.Timeouts.CommandExecution = "5m"
	}
	if wc.Timeouts.CIWait == "" {
		wc.Timeouts.CIWait = "10m"
	}
	if wc.Retry.MaxAttempts == 0 {
		wc.Retry.MaxAttempts = 3
	}
	if wc.Retry.BaseBackoff == "" {
		wc.Retry.BaseBackoff = "5s"
	}
	if wc.Retry.MaxBackoff == "" {
		wc.Retry.MaxBackoff = "60s"
	}
	if wc.CircuitBreaker.FailureThreshold == 0 {
		wc.CircuitBreaker.FailureThreshold = 5
	}
	if wc.CircuitBreaker.OpenTimeout == "" {
		wc.CircuitBreaker.OpenTimeout = "60s"
	}
}

func (wc WorkflowConfig) validate() error {
	if wc.MaxWorkers < 1 || wc.MaxWorkers > 10 {
		return fmt.Errorf("max_workers must be between 1 and 10, got %d", wc.MaxWorkers)
	}
	if _, err := time.ParseDuration(wc.Timeouts.AgentInvocation); err != nil {
		return fmt.Errorf("timeouts.agent_invocation: %w", err)
	}
	if _, err := time.ParseDuration(wc.Retry.BaseBackoff); err != nil {
		return fmt.Errorf("retry.base_backoff: %w", err)
	}
	if _, err := time.ParseDuration(wc.Retry.MaxBackoff); err != nil {
		return fmt.Errorf("retry.max_backoff: %w", err)
	}
	if _, err := time.ParseDuration(wc.CircuitBreaker.OpenTimeout); err != nil {
		return fmt.Errorf("circuit_breaker.open_timeout: %w", err)
	}
	return nil
}

// applyEnvOverrides honors the MAX_WORKERS and SKIP_APPROVAL env vars.
func (c *Config) applyEnvOverrides() {
	if raw := strings.TrimSpace(os.Getenv("MAX_WORKERS")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= 10 {
			c.Workflow.MaxWorkers = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("SKIP_APPROVAL")); raw != "" {
		if skip, err := strconv.ParseBool(raw); err == nil {
			c.Workflow.SkipApproval = skip
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ADSDLC_AGENT_CMD")); raw != "" {
		c.Agents.Command = strings.Fields(raw)
	}
}

// RoleConfig returns the configured posture for a role, or a zero-value
// fallback (inherit model, no tools, 10 minute timeout) if unconfigured.
func (c *Config) RoleConfig(role string) AgentRoleConfig {
	if cfg, ok := c.Agents.Roles[role]; ok {
		return cfg
	}
	return AgentRoleConfig{Model: "inherit", Timeout: "10m"}
}

// Path builders for the persisted scratchpad layout. Renaming any of
// these paths is a breaking change: resume depends on bit-exact naming.

func (c *Config) ScratchpadRoot() string { return filepath.Join(c.RootDir, "scratchpad") }
func (c *Config) InfoDir(projectID string) string {
	return filepath.Join(c.ScratchpadRoot(), "info", projectID)
}
func (c *Config) DocumentsDir(projectID string) string {
	return filepath.Join(c.ScratchpadRoot(), "documents", projectID)
}
func (c *Config) IssuesDir(projectID string) string {
	return filepath.Join(c.ScratchpadRoot(), "issues", projectID)
}
func (c *Config) ProgressDir(projectID string) string {
	return filepath.Join(c.ScratchpadRoot(), "progress", projectID)
}
func (c *Config) WorkOrdersDir(projectID string) string {
	return filepath.Join(c.ProgressDir(projectID), "work_orders")
}
func (c *Config) ResultsDir(projectID string) string {
	return filepath.Join(c.ProgressDir(projectID), "results")
}
func (c *Config) ReviewsDir(projectID string) string {
	return filepath.Join(c.ProgressDir(projectID), "reviews")
}
func (c *Config) EscalationsDir(projectID string) string {
	return filepath.Join(c.ProgressDir(projectID), "escalations")
}
func (c *Config) ControllerStatePath(projectID string) string {
	return filepath.Join(c.ProgressDir(projectID), "controller_state.yaml")
}
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.ScratchpadRoot(), "checkpoints")
}
func (c *Config) HistoryDir(section string) string {
	return filepath.Join(c.ScratchpadRoot(), "history", section)
}
func (c *Config) LogsDir() string { return filepath.Join(c.RootDir, "logs") }
func (c *Config) WorkflowConfigPath() string {
	return filepath.Join(c.RootDir, "config", "workflow.yaml")
}
func (c *Config) AgentsConfigPath() string {
	return filepath.Join(c.RootDir, "config", "agents.yaml")
}
func (c *Config) AgentPluginsDir() string {
	return filepath.Join(c.RootDir, "agents")
}

func ensureFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
