package orchestrator

import (
	"context"
	"fmt"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

// stageSection maps a stage name to the scratchpad section its agent
// output is persisted into. Stages not listed here are expected to have
// written their own artifacts directly (their agent role's tool whitelist
// includes "write"/"gh" for that purpose, e.g. github_repo_setup and
// issue_generation); AgentStageRunner only relays their textual output
// and whatever artifact paths the Runner reports, without reinterpreting
// them.
var stageSection = map[string]scratchpad.Section{
	"collection":     scratchpad.SectionCollectedInfo,
	"prd_generation": scratchpad.SectionPRD,
	"prd_update":     scratchpad.SectionPRD,
	"srs_generation": scratchpad.SectionSRS,
	"srs_update":     scratchpad.SectionSRS,
	"sds_generation": scratchpad.SectionSDS,
	"sds_update":     scratchpad.SectionSDS,
}

// AgentStageRunner is the default StageRunner: it builds a prompt from the
// project and stage, invokes the stage's role through the agent Adapter,
// and (for stages whose output is a single scratchpad document) persists the
// result through the scratchpad so later stages' artifact validation
// sees it on disk.
type AgentStageRunner struct {
	store   *scratchpad.Store
	adapter *agent.Adapter
}

// NewAgentStageRunner builds an AgentStageRunner.
func NewAgentStageRunner(store *scratchpad.Store, adapter *agent.Adapter) *AgentStageRunner {
	return &AgentStageRunner{store: store, adapter: adapter}
}

// RunStage implements StageRunner.
func (r *AgentStageRunner) RunStage(ctx context.Context, project scratchpad.Project, stage Stage) ([]string, string, error) {
	if stage.Role == "" {
		return nil, "", fmt.Errorf("orchestrator: stage %q has no agent role and no handoff", stage.Name)
	}
	prompt := buildPrompt(project, stage)
	resp := r.adapter.Invoke(ctx, stage.Role, prompt, agent.Options{})
	if resp.Error != nil {
		return nil, "", resp.Error
	}

	artifacts := append([]string(nil), resp.Artifacts...)
	if section, ok := stageSection[stage.Name]; ok {
		if _, err := r.store.Set(section, project.ID, resp.Output, nil); err != nil {
			return nil, "", fmt.Errorf("orchestrator: persist %s output: %w", stage.Name, err)
		}
		artifacts = append(artifacts, section.Path(project.ID))
	}
	return artifacts, resp.Output, nil
}

// buildPrompt renders the minimal context an agent role needs to know
// which project and stage it's being invoked for. The actual prompt
// template content is an external collaborator's concern; this
// is only the handful of facts the orchestrator itself knows.
func buildPrompt(project scratchpad.Project, stage Stage) string {
	return fmt.Sprintf(
		"project_id=%s\nproject_name=%s\nmode=%s\nstage=%s\nrole=%s\n",
		project.ID, project.Name, project.Mode, stage.Name, stage.Role,
	)
}
