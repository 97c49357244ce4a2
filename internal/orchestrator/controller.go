package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/depgraph"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
	"github.com/ad-sdlc/pipeline-core/internal/workerpool"
	"github.com/ad-sdlc/pipeline-core/internal/worksteps"
)

// issueDoc is the on-disk shape of one entry in issues/{projectId}/issue_list.json.
type issueDoc struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Priority           string   `json:"priority"`
	Effort             float64  `json:"effort"`
	Status             string   `json:"status,omitempty"` // "", "ready" dispatchable; "completed"/"superseded" done
	Retry              int      `json:"retry,omitempty"`  // rework generation, 0 for the original
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	ComponentID        string   `json:"component_id,omitempty"`
	FeatureID          string   `json:"feature_id,omitempty"`
	RequirementID      string   `json:"requirement_id,omitempty"`
	RelatedFiles       []string `json:"related_files,omitempty"`
}

type issueListDoc struct {
	Issues []issueDoc `json:"issues"`
}

type edgeDoc struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type dependencyGraphDoc struct {
	Edges []edgeDoc `json:"edges"`
}

// ReviewDecision is a PR-reviewer's quality-gate verdict.
type ReviewDecision struct {
	Merge            bool    `yaml:"merge"`
	RequestChanges   bool    `yaml:"request_changes"`
	Reject           bool    `yaml:"reject"`
	CoveragePercent  float64 `yaml:"coverage_percent"`
	TestsPass        bool    `yaml:"tests_pass"`
	LintPass         bool    `yaml:"lint_pass"`
	BuildPass        bool    `yaml:"build_pass"`
	TypecheckPass    bool    `yaml:"typecheck_pass"`
	SecurityFindings int     `yaml:"security_findings"`
	Notes            string  `yaml:"notes,omitempty"`
}

// Merger performs the merge action for an approved pull request, normally
// by shelling out to `gh pr merge` (worksteps.Deps.MergePR). A nil Merger
// records the decision without acting on it.
type Merger func(ctx context.Context, projectID, branch, prURL string) error

// Reviewer runs quality gates against one completed ImplementationResult
// and decides merge/request-changes/reject. Opening the PR itself is the
// sanitised GitHub CLI adapter's job, out of scope here.
type Reviewer func(ctx context.Context, projectID string, workOrderID string, state map[string]any) (ReviewDecision, error)

// Controller adapts internal/workerpool's Pool/Dispatcher/PRReviewPool into
// the ControllerHandoff seam the orchestrator's "implementation" and
// "pr_review" stages hand off to.
type Controller struct {
	cfg        *config.Config
	store      *scratchpad.Store
	executor   *retry.Executor
	pool       *workerpool.Pool
	reviewPool *workerpool.PRReviewPool
	steps      map[scratchpad.WorkStep]workerpool.StepFunc
	fixers     map[scratchpad.WorkStep]retry.Fixer
	reviewer   Reviewer
	merger     Merger
	now        func() time.Time
}

// NewController builds a Controller. steps supplies the seven worker-step
// implementations (context analysis, branch creation, code/test
// generation, verification, commit, result persistence) and fixers their
// automatic repair hooks; their concrete git/gh/LLM calls are out of
// scope. reviewer supplies the PR-reviewer's quality-gate decision and
// merger acts on an approved one.
func NewController(cfg *config.Config, store *scratchpad.Store, executor *retry.Executor, pool *workerpool.Pool, reviewPool *workerpool.PRReviewPool, steps map[scratchpad.WorkStep]workerpool.StepFunc, fixers map[scratchpad.WorkStep]retry.Fixer, reviewer Reviewer, merger Merger) *Controller {
	return &Controller{
		cfg: cfg, store: store, executor: executor, pool: pool,
		reviewPool: reviewPool, steps: steps, fixers: fixers,
		reviewer: reviewer, merger: merger,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// RunImplementation loads the issue list + dependency graph, analyzes
// them, and drains the ready queue through the worker pool. A cyclic
// graph is a fatal input error (the user must fix the issue graph) and
// is returned unwrapped so the retry layer categorizes it Fatal.
func (c *Controller) RunImplementation(ctx context.Context, projectID string) ([]string, string, error) {
	ctx = worksteps.WithProjectID(ctx, projectID)
	graph, err := c.loadGraph(projectID)
	if err != nil {
		return nil, "", err
	}
	analyzer, err := depgraph.Analyze(graph)
	if err != nil {
		return nil, "", err
	}

	monitor := workerpool.NewMonitor(c.pool, analyzer, c.cfg.ControllerStatePath(projectID))
	monCtx, cancelMon := context.WithCancel(ctx)
	go monitor.Run(monCtx)
	defer cancelMon()

	issues, err := c.loadIssues(projectID)
	if err != nil {
		return nil, "", err
	}
	dispatcher := workerpool.NewDispatcher(graph, analyzer, c.pool, issueSource{issues: issues})
	results, failures := dispatcher.Drain(ctx, c.store, func(id string) *workerpool.Worker {
		return workerpool.NewWorker(id, c.executor, c.steps, workerpool.WithFixers(c.fixers))
	})

	doneIDs := make([]string, 0, len(results))
	for issueID := range results {
		doneIDs = append(doneIDs, issueID)
	}
	sort.Strings(doneIDs)
	output := fmt.Sprintf("implementation: %d issue(s) completed, %d blocked/escalated", len(results), len(failures))
	return doneIDs, output, nil
}

// RunPRReview drains the not-yet-reviewed results, runs each
// ImplementationResult through the Reviewer's quality gates, and persists
// a review record. A Merge decision drives the Merger and marks the issue
// completed; a Reject/RequestChanges decision requeues the work as a new
// dependency-free rework issue (retry incremented) that the next
// implementation pass dispatches as a fresh WorkOrder.
func (c *Controller) RunPRReview(ctx context.Context, projectID string) ([]string, string, error) {
	pending, err := c.pendingResults(projectID)
	if err != nil {
		return nil, "", err
	}
	var reviewed []string
	merged, rejected := 0, 0
	for _, p := range pending {
		err := c.reviewPool.Review(ctx, func(ctx context.Context) error {
			decision, err := c.reviewer(ctx, projectID, p.workOrderID, p.state)
			if err != nil {
				return err
			}
			if err := c.persistReview(projectID, p, decision); err != nil {
				return err
			}
			if decision.Merge {
				if err := c.mergeResult(ctx, projectID, p); err != nil {
					return err
				}
				merged++
				return nil
			}
			if err := c.requeueResult(projectID, p, decision); err != nil {
				return err
			}
			rejected++
			return nil
		})
		if err != nil {
			return nil, "", err
		}
		reviewed = append(reviewed, p.workOrderID)
	}
	output := fmt.Sprintf("pr_review: %d reviewed, %d merged, %d requeued for rework", len(reviewed), merged, rejected)
	return reviewed, output, nil
}

// mergeResult acts on a Merge decision: the branch's PR is merged through
// the Merger seam and the underlying issue is marked completed so a later
// dispatch pass never picks it up again.
func (c *Controller) mergeResult(ctx context.Context, projectID string, p pendingReview) error {
	if c.merger != nil {
		branch, _ := p.state["branch_name"].(string)
		prURL, _ := p.state["pr_url"].(string)
		if err := c.merger(ctx, projectID, branch, prURL); err != nil {
			return fmt.Errorf("orchestrator: merge %s: %w", p.workOrderID, err)
		}
	}
	return c.setIssueStatus(projectID, p.issueID(), "completed")
}

// requeueResult turns a rejected or changes-requested result into a new
// dependency-free rework issue. The original issue is superseded (its
// dependents stay satisfied) and the rework entry carries the original's
// acceptance criteria and traceability with an incremented retry count.
func (c *Controller) requeueResult(projectID string, p pendingReview, decision ReviewDecision) error {
	issueID := p.issueID()
	if issueID == "" {
		// Result predates issue tracking; the work order id still gives the
		// rework a stable lineage.
		issueID = p.workOrderID
	}
	_, err := c.store.Update(scratchpad.SectionIssueList, projectID, func(current string, existed bool) (string, error) {
		var doc issueListDoc
		if existed {
			if err := json.Unmarshal([]byte(current), &doc); err != nil {
				return "", fmt.Errorf("decode issue list: %w", err)
			}
		}
		var orig *issueDoc
		for i := range doc.Issues {
			if doc.Issues[i].ID == issueID {
				orig = &doc.Issues[i]
				break
			}
		}
		retryN := 1
		if orig != nil {
			retryN = orig.Retry + 1
			orig.Status = "superseded"
		}
		rework := issueDoc{
			ID:       fmt.Sprintf("%s-rework-%d", rootIssueID(issueID), retryN),
			Title:    reworkTitle(orig, issueID),
			Priority: "P1",
			Status:   "ready",
			Retry:    retryN,
		}
		if orig != nil {
			rework.Effort = orig.Effort
			rework.AcceptanceCriteria = orig.AcceptanceCriteria
			rework.ComponentID = orig.ComponentID
			rework.FeatureID = orig.FeatureID
			rework.RequirementID = orig.RequirementID
			rework.RelatedFiles = orig.RelatedFiles
		}
		if decision.Notes != "" {
			rework.AcceptanceCriteria = append(append([]string{}, rework.AcceptanceCriteria...), "address review: "+decision.Notes)
		}
		doc.Issues = append(doc.Issues, rework)
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	return err
}

func (c *Controller) setIssueStatus(projectID, issueID, status string) error {
	if issueID == "" {
		return nil
	}
	_, err := c.store.Update(scratchpad.SectionIssueList, projectID, func(current string, existed bool) (string, error) {
		var doc issueListDoc
		if existed {
			if err := json.Unmarshal([]byte(current), &doc); err != nil {
				return "", fmt.Errorf("decode issue list: %w", err)
			}
		}
		for i := range doc.Issues {
			if doc.Issues[i].ID == issueID {
				doc.Issues[i].Status = status
			}
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	return err
}

// rootIssueID strips any -rework-N suffix so every rework generation of
// one issue shares a lineage key.
func rootIssueID(issueID string) string {
	if idx := strings.Index(issueID, "-rework-"); idx > 0 {
		return issueID[:idx]
	}
	return issueID
}

func reworkTitle(orig *issueDoc, issueID string) string {
	if orig != nil && orig.Title != "" {
		return strings.TrimSuffix(orig.Title, " (rework)") + " (rework)"
	}
	return issueID + " (rework)"
}

type pendingReview struct {
	workOrderID string
	state       map[string]any
}

func (p pendingReview) issueID() string {
	if id, ok := p.state["issue_id"].(string); ok && id != "" {
		return id
	}
	return ""
}

// pendingResults lists results that have no review record yet, so a
// second pr_review pass only judges new work.
func (c *Controller) pendingResults(projectID string) ([]pendingReview, error) {
	dir := c.cfg.ResultsDir(projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: list results: %w", err)
	}
	var out []pendingReview
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		woID := workOrderIDFromResultFile(e.Name())
		if _, err := os.Stat(c.reviewPath(projectID, woID)); err == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: read result %s: %w", e.Name(), err)
		}
		var state map[string]any
		if err := yaml.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("orchestrator: decode result %s: %w", e.Name(), err)
		}
		out = append(out, pendingReview{workOrderID: woID, state: state})
	}
	return out, nil
}

func workOrderIDFromResultFile(name string) string {
	base := name[:len(name)-len(filepath.Ext(name))]
	const suffix = "-result"
	if len(base) > len(suffix) && base[len(base)-len(suffix):] == suffix {
		return base[:len(base)-len(suffix)]
	}
	return base
}

// reviewRecord is the persisted shape of one quality-gate verdict.
type reviewRecord struct {
	WorkOrderID string         `yaml:"work_order_id"`
	IssueID     string         `yaml:"issue_id,omitempty"`
	Decision    ReviewDecision `yaml:"decision"`
	ReviewedAt  time.Time      `yaml:"reviewed_at"`
}

func (c *Controller) reviewPath(projectID, workOrderID string) string {
	return filepath.Join(c.cfg.ReviewsDir(projectID), prNameFor(workOrderID)+"-review.yaml")
}

func (c *Controller) persistReview(projectID string, p pendingReview, decision ReviewDecision) error {
	path := c.reviewPath(projectID, p.workOrderID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("orchestrator: mkdir: %w", err)
	}
	data, err := yaml.Marshal(reviewRecord{
		WorkOrderID: p.workOrderID,
		IssueID:     p.issueID(),
		Decision:    decision,
		ReviewedAt:  c.now(),
	})
	if err != nil {
		return fmt.Errorf("orchestrator: encode review: %w", err)
	}
	return atomicWrite(path, data)
}

// reviewsSettled reports whether every reviewed issue lineage ends in a
// Merge decision. An unsettled project has rework queued that a further
// implementation pass must pick up; the second return value says so in a
// form fit for a paused session's reason.
func reviewsSettled(cfg *config.Config, projectID string) (bool, string) {
	dir := cfg.ReviewsDir(projectID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true, ""
	}
	latest := map[string]reviewRecord{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var rec reviewRecord
		if err := yaml.Unmarshal(data, &rec); err != nil {
			continue
		}
		key := rec.IssueID
		if key == "" {
			key = rec.WorkOrderID
		}
		key = rootIssueID(key)
		if prev, ok := latest[key]; !ok || rec.ReviewedAt.After(prev.ReviewedAt) {
			latest[key] = rec
		}
	}
	var unsettled []string
	for key, rec := range latest {
		if !rec.Decision.Merge {
			unsettled = append(unsettled, key)
		}
	}
	if len(unsettled) == 0 {
		return true, ""
	}
	sort.Strings(unsettled)
	return false, fmt.Sprintf("rework queued for %v; resume to run another implementation pass", unsettled)
}

func prNameFor(workOrderID string) string {
	return "PR-" + workOrderID
}

func (c *Controller) loadGraph(projectID string) (*depgraph.Graph, error) {
	issues, err := c.loadIssues(projectID)
	if err != nil {
		return nil, err
	}
	_, depBody, found, err := c.store.Get(scratchpad.SectionDependencyGraph, projectID)
	if err != nil {
		return nil, err
	}
	var depDoc dependencyGraphDoc
	if found {
		if err := json.Unmarshal([]byte(depBody), &depDoc); err != nil {
			return nil, fmt.Errorf("orchestrator: decode dependency graph: %w", err)
		}
	}

	g := depgraph.NewGraph()
	for _, iss := range issues {
		g.AddNode(depgraph.Node{ID: iss.ID, Title: iss.Title, Priority: depgraph.Priority(iss.Priority), Effort: iss.Effort, Status: nodeStatusFor(iss.Status)})
	}
	for _, e := range depDoc.Edges {
		if err := g.AddEdge(e.From, e.To); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (c *Controller) loadIssues(projectID string) (map[string]issueDoc, error) {
	_, body, found, err := c.store.Get(scratchpad.SectionIssueList, projectID)
	if err != nil {
		return nil, err
	}
	if !found {
		return map[string]issueDoc{}, nil
	}
	var doc issueListDoc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("orchestrator: decode issue list: %w", err)
	}
	byID := make(map[string]issueDoc, len(doc.Issues))
	for _, iss := range doc.Issues {
		byID[iss.ID] = iss
	}
	return byID, nil
}

// nodeStatusFor maps an issue's persisted status into the analyzer's
// vocabulary: finished lineages (merged or superseded by rework) satisfy
// their dependents without being dispatched again.
func nodeStatusFor(status string) depgraph.Status {
	switch status {
	case "completed", "superseded":
		return depgraph.StatusCompleted
	case "blocked":
		return depgraph.StatusBlocked
	default:
		return depgraph.StatusReady
	}
}

// issueSource adapts the loaded issue map into workerpool.IssueSource.
type issueSource struct {
	issues map[string]issueDoc
}

func (s issueSource) ContextFor(issueID string) (string, []string, map[string]any, error) {
	iss, ok := s.issues[issueID]
	if !ok {
		return "", nil, nil, fmt.Errorf("orchestrator: unknown issue %q", issueID)
	}
	snapshot := map[string]any{
		"component_id":   iss.ComponentID,
		"feature_id":     iss.FeatureID,
		"requirement_id": iss.RequirementID,
		"related_files":  iss.RelatedFiles,
		"retry":          iss.Retry,
	}
	return iss.Title, iss.AcceptanceCriteria, snapshot, nil
}
