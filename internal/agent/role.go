// Package agent provides the uniform call interface to agent roles: it
// resolves tool whitelists, model class, and timeout from configuration,
// enforces a caller-supplied token/cost budget, attaches correlation ids, and masks
// secrets in outputs before returning. The adapter has no retry logic of
// its own; internal/retry wraps it.
package agent

import (
	"fmt"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/config"
)

// ModelClass names the model tier a role is invoked with.
type ModelClass string

const (
	ModelSonnet  ModelClass = "sonnet"
	ModelOpus    ModelClass = "opus"
	ModelHaiku   ModelClass = "haiku"
	ModelInherit ModelClass = "inherit"
)

// Role describes one agent role's invocation posture: its declared tool
// whitelist, model class, and timeout.
type Role struct {
	Name    string
	Model   ModelClass
	Tools   []string
	Timeout time.Duration
}

// Registry resolves role names to their configured posture. Populated from
// .ad-sdlc/config/agents.yaml (internal/config) and, optionally, from
// yaegi-scripted custom roles under .ad-sdlc/agents/ (internal/agent/plugin).
type Registry struct {
	roles map[string]Role
}

// NewRegistry builds a Registry from a resolved config, defaulting every
// built-in pipeline role (collector, prd-writer, srs-writer, sds-writer,
// issue-generator, implementer, pr-reviewer) to a safe fallback posture
// before applying agents.yaml overrides.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{roles: map[string]Role{}}
	for _, name := range defaultRoleNames {
		r.roles[name] = Role{Name: name, Model: ModelInherit, Timeout: 10 * time.Minute}
	}
	if cfg == nil {
		return r, nil
	}
	for name, rc := range cfg.Agents.Roles {
		role, err := roleFromConfig(name, rc)
		if err != nil {
			return nil, err
		}
		r.roles[name] = role
	}
	return r, nil
}

var defaultRoleNames = []string{
	"collector", "prd-writer", "srs-writer", "sds-writer",
	"issue-generator", "implementer", "pr-reviewer",
}

func roleFromConfig(name string, rc config.AgentRoleConfig) (Role, error) {
	timeout := 10 * time.Minute
	if rc.Timeout != "" {
		d, err := time.ParseDuration(rc.Timeout)
		if err != nil {
			return Role{}, fmt.Errorf("agent: role %q: %w", name, err)
		}
		timeout = d
	}
	model := ModelClass(rc.Model)
	if model == "" {
		model = ModelInherit
	}
	return Role{Name: name, Model: model, Tools: append([]string(nil), rc.Tools...), Timeout: timeout}, nil
}

// Register adds or replaces a role definition (used by internal/agent/plugin
// to install yaegi-loaded custom roles).
func (r *Registry) Register(role Role) {
	if role.Timeout <= 0 {
		role.Timeout = 10 * time.Minute
	}
	if role.Model == "" {
		role.Model = ModelInherit
	}
	r.roles[role.Name] = role
}

// Resolve returns the named role's posture, or false if unregistered.
func (r *Registry) Resolve(name string) (Role, bool) {
	role, ok := r.roles[name]
	return role, ok
}

// Names returns every registered role name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	return names
}
