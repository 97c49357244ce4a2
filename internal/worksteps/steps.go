// Package worksteps implements the seven-step worker sequence that
// internal/workerpool.Worker drives
// one step at a time: context analysis, code generation, and test
// generation delegate to an agent role; branch creation,
// verification, and commit shell out to git/gh/the project's build
// tooling as opaque subprocesses.
package worksteps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
	"github.com/ad-sdlc/pipeline-core/internal/workerpool"
)

type ctxKey string

const projectIDKey ctxKey = "adsdlc_project_id"

// WithProjectID attaches the project id a dispatched batch of work orders
// belongs to. Controller.RunImplementation sets this once before draining,
// since workerpool.WorkOrder itself carries no project id (one Dispatcher
// serves exactly one project per call).
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// ProjectIDFrom recovers the project id WithProjectID attached.
func ProjectIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(projectIDKey).(string)
	return id, ok
}

// FileChange is one file touched by an implementation.
type FileChange struct {
	Path         string `yaml:"path"`
	ChangeKind   string `yaml:"change_kind"`
	LinesAdded   int    `yaml:"lines_added"`
	LinesRemoved int    `yaml:"lines_removed"`
}

// VerificationOutcome is the verification step's quality-gate evidence,
// carried into ImplementationResult for the PR reviewer to judge against.
type VerificationOutcome struct {
	BuildPass       bool    `yaml:"build_pass"`
	TestsPass       bool    `yaml:"tests_pass"`
	LintPass        bool    `yaml:"lint_pass"`
	TypecheckPass   bool    `yaml:"typecheck_pass"`
	CoveragePercent float64 `yaml:"coverage_percent"`
	Log             string  `yaml:"log,omitempty"`
}

// failedGates names the gates that did not pass, in the order they run.
func (v VerificationOutcome) failedGates() []string {
	var failed []string
	if !v.TestsPass {
		failed = append(failed, "tests")
	}
	if !v.LintPass {
		failed = append(failed, "lint")
	}
	if !v.BuildPass {
		failed = append(failed, "build")
	}
	if !v.TypecheckPass {
		failed = append(failed, "typecheck")
	}
	return failed
}

// ImplementationResult is result_persistence's output: written
// exactly once per work order, last writer in the retry chain wins.
type ImplementationResult struct {
	WorkOrderID  string               `yaml:"work_order_id"`
	IssueID      string               `yaml:"issue_id"`
	BranchName   string               `yaml:"branch_name"`
	Files        []FileChange         `yaml:"files,omitempty"`
	Verification VerificationOutcome  `yaml:"verification"`
	Commits      []string             `yaml:"commits,omitempty"`
	PRURL        string               `yaml:"pr_url,omitempty"`
	RetryCount   int                  `yaml:"retry_count"`
	Status       string               `yaml:"status"`
	FinishedAt   time.Time            `yaml:"finished_at"`
}

// Deps is the shared configuration every step closes over. One Deps is
// built per process and its StepFuncs() map is reused across every
// project the Controller drains, since workerpool.Worker steps carry no
// per-project state of their own beyond what WithProjectID attaches.
type Deps struct {
	Cfg          *config.Config
	Adapter      *agent.Adapter
	Role         string   // agent role invoked for analysis/codegen/testgen; defaults to "implementer"
	VerifyCmd    []string // e.g. {"go", "build", "./..."}; empty disables the build gate
	TestCmd      []string // e.g. {"go", "test", "-cover", "./..."}; empty disables the test gate
	LintCmd      []string // e.g. {"golangci-lint", "run"}; empty disables the lint gate
	LintFixCmd   []string // e.g. {"golangci-lint", "run", "--fix"}; tried first by the verification fixer
	TypecheckCmd []string // e.g. {"go", "vet", "./..."}; empty disables the typecheck gate
	BaseBranch   string   // defaults to "main"
	Now          func() time.Time
}

// Fixers builds the per-step automatic fixers the worker wires into the
// retry layer's fix-then-retry hook. Only verification has one: a lint
// auto-fix command when configured, then an implementer invocation asked
// to repair whatever the gates reported.
func (d Deps) Fixers() map[scratchpad.WorkStep]retry.Fixer {
	return map[scratchpad.WorkStep]retry.Fixer{
		scratchpad.StepVerification: d.verificationFix,
	}
}

// StepFuncs builds the registry internal/workerpool.NewWorker needs.
func (d Deps) StepFuncs() map[scratchpad.WorkStep]workerpool.StepFunc {
	return map[scratchpad.WorkStep]workerpool.StepFunc{
		scratchpad.StepContextAnalysis:   d.contextAnalysis,
		scratchpad.StepBranchCreation:    d.branchCreation,
		scratchpad.StepCodeGeneration:    d.codeGeneration,
		scratchpad.StepTestGeneration:    d.testGeneration,
		scratchpad.StepVerification:      d.verification,
		scratchpad.StepCommit:            d.commit,
		scratchpad.StepResultPersistence: d.resultPersistence,
	}
}

func (d Deps) role() string {
	if d.Role != "" {
		return d.Role
	}
	return "implementer"
}

func (d Deps) baseBranch() string {
	if d.BaseBranch != "" {
		return d.BaseBranch
	}
	return "main"
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// contextAnalysis invokes the implementer role to turn a work order's
// acceptance criteria and dependency-status snapshot into an implementation
// plan; the plan's text is carried forward for the generation steps' prompts.
func (d Deps) contextAnalysis(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf(
		"step=context_analysis\nwork_order=%s\ntitle=%s\nacceptance_criteria=%v\ncontext_snapshot=%v\n",
		wo.ID, wo.Title, wo.AcceptanceCriteria, wo.ContextSnapshot,
	)
	resp := d.Adapter.Invoke(ctx, d.role(), prompt, agent.Options{})
	if resp.Error != nil {
		return state, resp.Error
	}
	state["plan"] = resp.Output
	return state, nil
}

// branchCreation creates (or reuses) the work order's branch. A branch
// that already exists with a tip not descended from the base branch is a
// conflict no retry can resolve, so it's reported fatal rather than
// retried.
func (d Deps) branchCreation(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	branch := branchName(wo)
	if _, err := d.git(ctx, "rev-parse", "--verify", branch); err == nil {
		if _, ancestorErr := d.git(ctx, "merge-base", "--is-ancestor", d.baseBranch(), branch); ancestorErr != nil {
			return state, retry.Fatal(fmt.Errorf("worksteps: branch %q already exists with unrelated history", branch))
		}
		if _, err := d.git(ctx, "checkout", branch); err != nil {
			return state, err
		}
	} else if _, err := d.git(ctx, "checkout", "-b", branch, d.baseBranch()); err != nil {
		return state, err
	}
	state["branch_name"] = branch
	return state, nil
}

// codeGeneration invokes the implementer role to produce the change.
// Writing files is the role's own "write" tool privilege; this step only
// relays what it reports.
func (d Deps) codeGeneration(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf("step=code_generation\nwork_order=%s\nplan=%v\nacceptance_criteria=%v\n", wo.ID, state["plan"], wo.AcceptanceCriteria)
	resp := d.Adapter.Invoke(ctx, d.role(), prompt, agent.Options{})
	if resp.Error != nil {
		return state, resp.Error
	}
	appendArtifacts(state, resp.Artifacts)
	state["code_output"] = resp.Output
	return state, nil
}

// testGeneration invokes the implementer role to produce or update tests
// covering the change.
func (d Deps) testGeneration(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	prompt := fmt.Sprintf("step=test_generation\nwork_order=%s\nplan=%v\ncode_output=%v\n", wo.ID, state["plan"], state["code_output"])
	resp := d.Adapter.Invoke(ctx, d.role(), prompt, agent.Options{})
	if resp.Error != nil {
		return state, resp.Error
	}
	appendArtifacts(state, resp.Artifacts)
	return state, nil
}

// verification runs the configured gates in order: tests, lint, build,
// typecheck. The outcome (including the coverage percentage parsed from
// the test run) is recorded in state either way, so the PR reviewer sees
// the evidence; any failing gate is also returned as a recoverable error
// so the retry layer runs the verification fixer and tries again within
// the verification budget before escalating.
func (d Deps) verification(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	outcome := VerificationOutcome{BuildPass: true, TestsPass: true, LintPass: true, TypecheckPass: true}
	var log strings.Builder

	if len(d.TestCmd) > 0 {
		out, err := d.run(ctx, d.TestCmd[0], d.TestCmd[1:]...)
		log.WriteString(out)
		outcome.TestsPass = err == nil
		outcome.CoveragePercent = parseCoverage(out)
	}
	if len(d.LintCmd) > 0 {
		out, err := d.run(ctx, d.LintCmd[0], d.LintCmd[1:]...)
		log.WriteString(out)
		outcome.LintPass = err == nil
	}
	if len(d.VerifyCmd) > 0 {
		out, err := d.run(ctx, d.VerifyCmd[0], d.VerifyCmd[1:]...)
		log.WriteString(out)
		outcome.BuildPass = err == nil
	}
	if len(d.TypecheckCmd) > 0 {
		out, err := d.run(ctx, d.TypecheckCmd[0], d.TypecheckCmd[1:]...)
		log.WriteString(out)
		outcome.TypecheckPass = err == nil
	}
	outcome.Log = log.String()
	state["verification"] = outcome

	if failed := outcome.failedGates(); len(failed) > 0 {
		return state, retry.Recoverable(fmt.Errorf("worksteps: verification failed: %s", strings.Join(failed, ", ")))
	}
	return state, nil
}

// verificationFix is the automatic repair attempt the retry layer runs
// between verification attempts: the lint auto-fix command first when one
// is configured, then the implementer role prompted with the failure.
// Progress is reported if either path did something, so a retry is only
// spent when a fix plausibly changed the tree.
func (d Deps) verificationFix(ctx context.Context, cause error) (bool, error) {
	progressed := false
	if len(d.LintFixCmd) > 0 {
		if _, err := d.run(ctx, d.LintFixCmd[0], d.LintFixCmd[1:]...); err == nil {
			progressed = true
		}
	}
	prompt := fmt.Sprintf("step=verification_fix\nfailure=%v\n", cause)
	resp := d.Adapter.Invoke(ctx, d.role(), prompt, agent.Options{})
	if resp.Error != nil {
		return progressed, nil
	}
	return true, nil
}

// parseCoverage extracts the statement coverage percentage from test
// output ("coverage: NN.N% of statements" lines); multiple packages are
// averaged. No match reports 0.
func parseCoverage(out string) float64 {
	matches := coveragePattern.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		sum += v
	}
	return sum / float64(len(matches))
}

var coveragePattern = regexp.MustCompile(`coverage: (\d+(?:\.\d+)?)% of statements`)

// commit stages, commits, and pushes the branch, then opens (or updates)
// the pull request via the GitHub CLI. Non-resumable: a crash here
// restarts from code_generation (scratchpad.WorkStep.Resumable()).
func (d Deps) commit(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	branch, _ := state["branch_name"].(string)
	if branch == "" {
		branch = branchName(wo)
	}
	if _, err := d.git(ctx, "add", "-A"); err != nil {
		return state, err
	}
	msg := fmt.Sprintf("%s: %s", wo.ID, wo.Title)
	if _, err := d.git(ctx, "commit", "-m", msg, "--allow-empty"); err != nil {
		return state, err
	}
	sha, err := d.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return state, err
	}
	sha = strings.TrimSpace(sha)
	if _, err := d.git(ctx, "push", "-u", "origin", branch); err != nil {
		return state, err
	}

	prURL, err := d.gh(ctx, "pr", "create", "--title", msg, "--body", fmt.Sprintf("Implements %s", wo.ID), "--head", branch, "--fill")
	if err != nil {
		if existing, viewErr := d.gh(ctx, "pr", "view", branch, "--json", "url", "-q", ".url"); viewErr == nil {
			prURL = existing
		} else {
			return state, err
		}
	}

	commits, _ := state["commits"].([]string)
	state["commits"] = append(commits, sha)
	state["pr_url"] = strings.TrimSpace(prURL)
	return state, nil
}

// resultPersistence writes the final ImplementationResult exactly once
// per work order, under the project's results directory so the
// PR-review stage can find it.
func (d Deps) resultPersistence(ctx context.Context, wo workerpool.WorkOrder, state map[string]any) (map[string]any, error) {
	projectID, _ := ProjectIDFrom(ctx)
	branch, _ := state["branch_name"].(string)
	prURL, _ := state["pr_url"].(string)
	commits, _ := state["commits"].([]string)
	outcome, _ := state["verification"].(VerificationOutcome)

	retryCount, _ := wo.ContextSnapshot["retry"].(int)
	result := ImplementationResult{
		WorkOrderID:  wo.ID,
		IssueID:      wo.IssueID,
		BranchName:   branch,
		Verification: outcome,
		Commits:      commits,
		PRURL:        prURL,
		RetryCount:   retryCount,
		Status:       "completed",
		FinishedAt:   d.now(),
	}
	data, err := yaml.Marshal(result)
	if err != nil {
		return state, fmt.Errorf("worksteps: encode result: %w", err)
	}
	path := filepath.Join(d.Cfg.ResultsDir(projectID), wo.ID+"-result.yaml")
	if err := atomicWriteFile(path, data); err != nil {
		return state, err
	}
	state["result_path"] = path
	return state, nil
}

func appendArtifacts(state map[string]any, artifacts []string) {
	if len(artifacts) == 0 {
		return
	}
	existing, _ := state["artifacts"].([]string)
	state["artifacts"] = append(existing, artifacts...)
}

func branchName(wo workerpool.WorkOrder) string {
	return fmt.Sprintf("adsdlc/%s-%s", strings.ToLower(wo.ID), slugify(wo.Title))
}

func slugify(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '-' || r == '_':
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "task"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// MergePR merges an approved pull request through the GitHub CLI. The
// review decision drives this; the CLI's own output is opaque and only
// its exit code matters.
func (d Deps) MergePR(ctx context.Context, projectID, branch, prURL string) error {
	target := prURL
	if target == "" {
		target = branch
	}
	_, err := d.gh(ctx, "pr", "merge", target, "--squash", "--delete-branch")
	return err
}

// git runs a git command rooted at the project directory, capturing
// stdout+stderr and folding stderr into the returned error.
func (d Deps) git(ctx context.Context, args ...string) (string, error) {
	return d.run(ctx, "git", args...)
}

func (d Deps) gh(ctx context.Context, args ...string) (string, error) {
	return d.run(ctx, "gh", args...)
}

func (d Deps) run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = d.Cfg.ProjectDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return stdout.String(), fmt.Errorf("worksteps: %s %s: %s", name, strings.Join(args, " "), errMsg)
	}
	return stdout.String(), nil
}
