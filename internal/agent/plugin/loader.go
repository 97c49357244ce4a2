// Package plugin loads custom agent-role definitions from .go scripts
// under .ad-sdlc/agents/: each file is evaluated by a yaegi interpreter
// and must declare an AgentRoles() function returning role specs as
// []map[string]any, which are then decoded into internal/agent.Role
// values and registered.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
)

const roleFuncName = "AgentRoles"

// RoleSpec is the decoded shape of one map returned by a script's
// AgentRoles() — the yaml-tagged mirror of agent.Role, since yaegi scripts
// can only return plain maps/slices across the interpreter boundary.
type RoleSpec struct {
	Name    string   `yaml:"name"`
	Model   string   `yaml:"model"`
	Tools   []string `yaml:"tools"`
	Timeout string   `yaml:"timeout"`
}

// LoadDir evaluates every .go file in dir and registers the roles each one
// declares into reg. A missing dir is not an error (no custom roles).
func LoadDir(dir string, reg *agent.Registry) error {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("agent/plugin: read %s: %w", trimmed, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		specs, err := loadFile(filepath.Join(trimmed, name))
		if err != nil {
			return err
		}
		for _, spec := range specs {
			role, err := spec.toRole()
			if err != nil {
				return fmt.Errorf("agent/plugin: %s: %w", name, err)
			}
			reg.Register(role)
		}
	}
	return nil
}

func loadFile(path string) ([]RoleSpec, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent/plugin: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(code)) == "" {
		return nil, fmt.Errorf("agent/plugin: %s is empty", path)
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("agent/plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("agent/plugin: interpret %s: %w", path, err)
	}
	fnValue, err := i.Eval(roleFuncName)
	if err != nil {
		return nil, fmt.Errorf("agent/plugin: %s must define %s() []map[string]any: %w", path, roleFuncName, err)
	}
	raw, err := invokeRoleFunc(fnValue)
	if err != nil {
		return nil, fmt.Errorf("agent/plugin: %s: %w", path, err)
	}

	specs := make([]RoleSpec, 0, len(raw))
	for idx, entry := range raw {
		data, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("agent/plugin: %s role[%d]: %w", path, idx, err)
		}
		var spec RoleSpec
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("agent/plugin: %s role[%d]: %w", path, idx, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func invokeRoleFunc(value reflect.Value) ([]map[string]any, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", roleFuncName)
	}
	results := value.Call(nil)
	if len(results) == 0 {
		return nil, fmt.Errorf("%s must return []map[string]any", roleFuncName)
	}
	out := results[0]
	if raw, ok := out.Interface().([]map[string]any); ok {
		return raw, nil
	}
	if out.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must return a slice", roleFuncName)
	}
	converted := make([]map[string]any, out.Len())
	for i := 0; i < out.Len(); i++ {
		m, ok := out.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", roleFuncName, i)
		}
		converted[i] = m
	}
	return converted, nil
}

func (spec RoleSpec) toRole() (agent.Role, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return agent.Role{}, fmt.Errorf("role spec missing name")
	}
	timeout := 10 * time.Minute
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return agent.Role{}, fmt.Errorf("role %q: bad timeout %q: %w", name, spec.Timeout, err)
		}
		timeout = d
	}
	model := agent.ModelClass(spec.Model)
	if model == "" {
		model = agent.ModelInherit
	}
	return agent.Role{Name: name, Model: model, Tools: append([]string(nil), spec.Tools...), Timeout: timeout}, nil
}
