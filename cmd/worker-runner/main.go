// cmd/worker-runner executes a single work order outside the pool: the
// manual escape hatch for re-running one escalated task after fixing
// whatever blocked it, without replaying the whole implementation stage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
	"github.com/ad-sdlc/pipeline-core/internal/agent/execrunner"
	"github.com/ad-sdlc/pipeline-core/internal/agent/plugin"
	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
	"github.com/ad-sdlc/pipeline-core/internal/workerpool"
	"github.com/ad-sdlc/pipeline-core/internal/worksteps"
)

func main() {
	issueID := flag.String("issue", "", "issue id to execute (e.g. ISS-003)")
	projectID := flag.String("project-id", "", "project id the issue belongs to")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	orderID := flag.String("order", "", "work order id to reuse (defaults to a manual one)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall execution timeout")
	sets := keyValueFlag{}
	flag.Var(&sets, "set", "context snapshot override (key=value, repeatable)")
	flag.Parse()

	if strings.TrimSpace(*issueID) == "" {
		die("--issue is required")
	}
	if strings.TrimSpace(*projectID) == "" {
		die("--project-id is required")
	}

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitProjectDir(absoluteProject); err != nil {
		die("init .ad-sdlc: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}

	store := scratchpad.NewStore(cfg)
	registry, err := agent.NewRegistry(cfg)
	if err != nil {
		die("load agent roles: %v", err)
	}
	if err := plugin.LoadDir(cfg.AgentPluginsDir(), registry); err != nil {
		die("load agent plugins: %v", err)
	}
	adapter := agent.NewAdapter(registry, execrunner.New(cfg.Agents.Command))
	executor := retry.NewExecutor(store, func(report retry.EscalationReport) error {
		fmt.Fprintf(os.Stderr, "escalation %s: %s (%s)\n", report.ID, report.Error, report.Recommendation)
		return nil
	})

	title, criteria, snapshot := loadIssueContext(store, *projectID, *issueID)
	for key, value := range sets {
		snapshot[key] = value
	}

	wo := workerpool.WorkOrder{
		ID:                 orderIDOrDefault(*orderID, *issueID),
		IssueID:            *issueID,
		Title:              title,
		ContextSnapshot:    snapshot,
		AcceptanceCriteria: criteria,
		Status:             workerpool.WorkOrderQueued,
		CreatedAt:          time.Now().UTC(),
		UpdatedAt:          time.Now().UTC(),
	}

	deps := worksteps.Deps{Cfg: cfg, Adapter: adapter}
	worker := workerpool.NewWorker("worker-manual", executor, deps.StepFuncs(),
		workerpool.WithFixers(deps.Fixers()))

	ctx, cancel := context.WithTimeout(worksteps.WithProjectID(context.Background(), *projectID), *timeout)
	defer cancel()

	state, err := worker.Run(ctx, store, wo)
	if err != nil {
		die("run work order %s: %v", wo.ID, err)
	}
	fmt.Printf("work order %s completed\n", wo.ID)
	if path, ok := state["result_path"].(string); ok {
		fmt.Printf("result: %s\n", path)
	}
}

func orderIDOrDefault(orderID, issueID string) string {
	if strings.TrimSpace(orderID) != "" {
		return orderID
	}
	return "WO-manual-" + strings.ToLower(issueID)
}

// loadIssueContext pulls the issue's title, acceptance criteria, and
// traceability snapshot from the project's issue list. A missing list is
// not fatal: the operator may be re-running against a hand-written order.
func loadIssueContext(store *scratchpad.Store, projectID, issueID string) (string, []string, map[string]any) {
	snapshot := map[string]any{}
	_, body, found, err := store.Get(scratchpad.SectionIssueList, projectID)
	if err != nil || !found {
		return issueID, nil, snapshot
	}
	var doc struct {
		Issues []struct {
			ID                 string   `json:"id"`
			Title              string   `json:"title"`
			Retry              int      `json:"retry"`
			AcceptanceCriteria []string `json:"acceptance_criteria"`
			ComponentID        string   `json:"component_id"`
			FeatureID          string   `json:"feature_id"`
			RequirementID      string   `json:"requirement_id"`
			RelatedFiles       []string `json:"related_files"`
		} `json:"issues"`
	}
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return issueID, nil, snapshot
	}
	for _, iss := range doc.Issues {
		if iss.ID != issueID {
			continue
		}
		snapshot["component_id"] = iss.ComponentID
		snapshot["feature_id"] = iss.FeatureID
		snapshot["requirement_id"] = iss.RequirementID
		snapshot["related_files"] = iss.RelatedFiles
		snapshot["retry"] = iss.Retry
		return iss.Title, iss.AcceptanceCriteria, snapshot
	}
	return issueID, nil, snapshot
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}
