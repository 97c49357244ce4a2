package orchestrator

import (
	"context"
	"testing"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

type fakeStageAgentRunner struct {
	output    string
	artifacts []string
	err       error
}

func (f fakeStageAgentRunner) Run(ctx context.Context, role agent.Role, prompt, correlationID string) (string, []string, int, error) {
	return f.output, f.artifacts, 42, f.err
}

func TestAgentStageRunnerPersistsDocumentStage(t *testing.T) {
	dir := t.TempDir()
	if err := config.InitProjectDir(dir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	store := scratchpad.NewStore(cfg)
	if _, err := store.CreateProject("proj-1", "Proj One", ModeGreenfield); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	registry, err := agent.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	runner := fakeStageAgentRunner{output: "# PRD\n\nBody text."}
	adapter := agent.NewAdapter(registry, runner)
	stageRunner := NewAgentStageRunner(store, adapter)

	proj, err := store.GetProject("proj-1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	stage := Stage{Name: "prd_generation", Role: "prd-writer"}
	artifacts, output, err := stageRunner.RunStage(context.Background(), proj, stage)
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if output != "# PRD\n\nBody text." {
		t.Fatalf("output = %q", output)
	}
	if len(artifacts) != 1 {
		t.Fatalf("artifacts = %v, want 1 entry", artifacts)
	}

	_, body, found, err := store.Get(scratchpad.SectionPRD, "proj-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected SectionPRD to be persisted")
	}
	if body != "# PRD\n\nBody text." {
		t.Fatalf("persisted body = %q", body)
	}
}

func TestAgentStageRunnerUnknownRole(t *testing.T) {
	dir := t.TempDir()
	if err := config.InitProjectDir(dir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	store := scratchpad.NewStore(cfg)
	registry, err := agent.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	adapter := agent.NewAdapter(registry, fakeStageAgentRunner{})
	stageRunner := NewAgentStageRunner(store, adapter)

	_, _, err = stageRunner.RunStage(context.Background(), scratchpad.Project{ID: "proj-2"}, Stage{Name: "mystery", Role: "unregistered-role"})
	if err == nil {
		t.Fatal("expected an error for an unregistered role")
	}
}
