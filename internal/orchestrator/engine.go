package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
	"github.com/ad-sdlc/pipeline-core/internal/validator"
)

// StageRunner performs one stage's agent work (a single agent invocation).
// The prompt content and per-agent heuristics are out of scope;
// a caller wires a concrete implementation backed by internal/agent.Adapter.
type StageRunner interface {
	RunStage(ctx context.Context, project scratchpad.Project, stage Stage) (artifacts []string, output string, err error)
}

// ControllerHandoff drives the worker pool and PR-review queue for the
// "implementation" and "pr_review" stages, which are not single agent
// calls but a whole dispatch loop over the issue graph.
type ControllerHandoff interface {
	RunImplementation(ctx context.Context, projectID string) (artifacts []string, output string, err error)
	RunPRReview(ctx context.Context, projectID string) (artifacts []string, output string, err error)
}

// Orchestrator owns the stage DAG for one project's pipeline runs.
type Orchestrator struct {
	cfg          *config.Config
	store        *scratchpad.Store
	runner       StageRunner
	controller   ControllerHandoff
	executor     *retry.Executor
	sessions     *sessionStore
	stageTimeout time.Duration
	skipApproval bool
	now          func() time.Time
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStageTimeout overrides the default per-stage agent-invocation timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithSkipApproval disables every approval gate (the --skip-approval
// flag / SKIP_APPROVAL env var).
func WithSkipApproval(skip bool) Option {
	return func(o *Orchestrator) { o.skipApproval = skip }
}

// New builds an Orchestrator. executor should be the same internal/retry
// Executor used elsewhere in the process so circuit breaker state is
// shared across stage invocations.
func New(cfg *config.Config, store *scratchpad.Store, runner StageRunner, controller ControllerHandoff, executor *retry.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		store:        store,
		runner:       runner,
		controller:   controller,
		executor:     executor,
		sessions:     newSessionStore(cfg),
		stageTimeout: 10 * time.Minute,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartRequest begins a brand-new session.
type StartRequest struct {
	ProjectID          string
	ProjectName        string
	Mode               Mode // "" triggers DetectMode
	PreCompletedStages []string
}

// Start creates a new project and runs its pipeline from the beginning
// (or from the caller-declared PreCompletedStages).
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (Session, error) {
	mode := req.Mode
	if mode == "" {
		detected, err := DetectMode(o.cfg.ProjectDir)
		if err != nil {
			return Session{}, err
		}
		mode = detected
	}
	proj, err := o.store.CreateProject(req.ProjectID, req.ProjectName, mode)
	if err != nil {
		return Session{}, err
	}
	pruned := o.pruneByArtifacts(proj.ID, mode, req.PreCompletedStages)
	sess := Session{
		ID:           newSessionID(),
		ProjectID:    proj.ID,
		StartedAt:    o.now(),
		Mode:         mode,
		Status:       SessionRunning,
		PreCompleted: pruned,
	}
	return o.run(ctx, &sess)
}

// ResumeMode names the three resume strategies.
type ResumeMode string

const (
	ResumeFresh     ResumeMode = "fresh"
	ResumeContinue  ResumeMode = "resume"
	ResumeStartFrom ResumeMode = "start_from"
)

// ResumeRequest resumes a prior session.
type ResumeRequest struct {
	ProjectID          string
	SessionID          string
	Mode               ResumeMode
	StartFromStage     string
	PreCompletedStages []string // user-declared additions, unioned with prior progress
}

// Resume loads the named prior session and starts a new session that
// inherits its pre-completed stage set, filtered by artifact validation.
func (o *Orchestrator) Resume(ctx context.Context, req ResumeRequest) (Session, error) {
	prior, err := o.sessions.load(req.ProjectID, req.SessionID)
	if err != nil {
		return Session{}, err
	}

	var preCompleted []string
	switch req.Mode {
	case ResumeFresh:
		preCompleted = nil
	case ResumeStartFrom:
		preCompleted = stagesBefore(prior.Mode, req.StartFromStage)
	default:
		preCompleted = unionStrings(completedNames(prior), req.PreCompletedStages)
	}

	pruned := o.pruneByArtifacts(req.ProjectID, prior.Mode, preCompleted)
	sess := Session{
		ID:              newSessionID(),
		ProjectID:       req.ProjectID,
		ParentSessionID: prior.ID,
		StartedAt:       o.now(),
		Mode:            prior.Mode,
		Status:          SessionRunning,
		PreCompleted:    pruned,
	}
	// A session that paused at an approval gate stays gated across resume:
	// continuing it re-pauses at the same gate instead of slipping past an
	// approval nobody recorded.
	if req.Mode == ResumeContinue && prior.PendingGate != "" && !o.skipApproval {
		sess.PendingGate = prior.PendingGate
		sess.Status = SessionPaused
		sess.PausedReason = fmt.Sprintf("awaiting approval for %q", prior.PendingGate)
		if err := o.sessions.save(sess); err != nil {
			return sess, err
		}
		return sess, nil
	}
	return o.run(ctx, &sess)
}

// ApproveGate records approval of the session's currently pending gate and
// resumes the run loop from where it paused.
func (o *Orchestrator) ApproveGate(ctx context.Context, projectID, sessionID, approvedBy, reason string) (Session, error) {
	sess, err := o.sessions.load(projectID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.PendingGate == "" {
		return sess, fmt.Errorf("orchestrator: session %s has no pending approval gate", sessionID)
	}
	if to, ok := gateTargetState[sess.PendingGate]; ok {
		_, _ = o.store.Transition(projectID, to, scratchpad.TriggerNormal, approvedBy, reason)
	}
	sess.PendingGate = ""
	sess.Status = SessionRunning
	return o.run(ctx, &sess)
}

// RejectGate records rejection of the session's pending gate, demotes that
// stage's result so it reruns, and resumes the run loop.
func (o *Orchestrator) RejectGate(ctx context.Context, projectID, sessionID, reason string) (Session, error) {
	sess, err := o.sessions.load(projectID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.PendingGate == "" {
		return sess, fmt.Errorf("orchestrator: session %s has no pending approval gate", sessionID)
	}
	gate := sess.PendingGate
	filtered := sess.Stages[:0:0]
	for _, sr := range sess.Stages {
		if sr.Stage != gate {
			filtered = append(filtered, sr)
		}
	}
	sess.Stages = filtered
	sess.PendingGate = ""
	sess.Status = SessionRunning
	sess.PausedReason = fmt.Sprintf("gate %q rejected: %s", gate, reason)
	return o.run(ctx, &sess)
}

// run drives the session loop until it completes, pauses on a gate, or
// pauses on fatal failure.
func (o *Orchestrator) run(ctx context.Context, sess *Session) (Session, error) {
	stages := topoOrder(StagesForMode(sess.Mode))
	total := len(stages)

	for {
		completed := sess.completedSet()
		if len(completed) >= total && allPresent(stages, completed) {
			if settled, reason := reviewsSettled(o.cfg, sess.ProjectID); !settled {
				// Rework issues are queued; demote the dispatch stages so a
				// resumed session runs another implementation + review pass
				// once the operator picks the rework back up.
				demoteStages(sess, "implementation", "pr_review")
				sess.Status = SessionPaused
				sess.PausedReason = reason
				if err := o.sessions.save(*sess); err != nil {
					return *sess, err
				}
				return *sess, nil
			}
			sess.Status = SessionCompleted
			o.finalize(sess)
			if err := o.sessions.save(*sess); err != nil {
				return *sess, err
			}
			return *sess, nil
		}

		ready := readyStages(stages, completed)
		if len(ready) == 0 {
			sess.Status = SessionPaused
			if sess.PausedReason == "" {
				sess.PausedReason = "no stages ready; dependency or approval state is stuck"
			}
			if err := o.sessions.save(*sess); err != nil {
				return *sess, err
			}
			return *sess, fmt.Errorf("orchestrator: %s", sess.PausedReason)
		}

		gated := ""
		for _, stage := range ready {
			res, err := o.runOneStage(ctx, sess, stage)
			sess.Stages = append(sess.Stages, res)
			if err != nil {
				sess.Status = SessionPaused
				sess.PausedReason = err.Error()
				_ = o.sessions.save(*sess)
				return *sess, err
			}
			if stage.ApprovalGate && !o.skipApproval {
				gated = stage.Name
				break
			}
		}
		if gated != "" {
			sess.PendingGate = gated
			sess.Status = SessionPaused
			sess.PausedReason = fmt.Sprintf("awaiting approval for %q", gated)
			if err := o.sessions.save(*sess); err != nil {
				return *sess, err
			}
			return *sess, nil
		}
		if err := o.sessions.save(*sess); err != nil {
			return *sess, err
		}
	}
}

// runOneStage validates upstream artifacts, then invokes the stage
// (agent call or Controller handoff) under the retry/timeout wrapper.
func (o *Orchestrator) runOneStage(ctx context.Context, sess *Session, stage Stage) (StageResult, error) {
	start := o.now()
	res := StageResult{Stage: stage.Name, Role: stage.Role, StartedAt: start}

	if err := o.validateUpstream(sess.ProjectID, sess.Mode, stage); err != nil {
		res.Status = StageFailed
		res.EndedAt = o.now()
		res.Error = err.Error()
		return res, err
	}

	proj, err := o.store.GetProject(sess.ProjectID)
	if err != nil {
		res.Status = StageFailed
		res.EndedAt = o.now()
		res.Error = err.Error()
		return res, err
	}

	op := retry.Operation{
		Name:       stage.Name,
		ServiceKey: "llm-provider",
		Timeout:    o.stageTimeout,
		Run: func(ctx context.Context, _ int) (any, error) {
			var artifacts []string
			var output string
			var runErr error
			switch stage.Handoff {
			case "controller":
				if stage.Name == "pr_review" {
					artifacts, output, runErr = o.controller.RunPRReview(ctx, sess.ProjectID)
				} else {
					artifacts, output, runErr = o.controller.RunImplementation(ctx, sess.ProjectID)
				}
			default:
				artifacts, output, runErr = o.runner.RunStage(ctx, proj, stage)
			}
			if runErr != nil {
				return nil, runErr
			}
			return stageOutput{artifacts: artifacts, output: output}, nil
		},
	}
	if stage.Handoff == "controller" && stage.Name == "pr_review" {
		op.ServiceKey = "github-cli"
	}

	result := o.executor.Execute(ctx, op)
	res.EndedAt = o.now()
	if !result.Success {
		res.Status = StageFailed
		res.Error = result.Error.Error()
		return res, result.Error
	}
	out, _ := result.Data.(stageOutput)
	res.Status = StageCompleted
	res.Artifacts = out.artifacts
	res.Output = out.output
	return res, nil
}

type stageOutput struct {
	artifacts []string
	output    string
}

// validateUpstream confirms every direct predecessor's required artifacts
// exist before letting stage run: a stage refuses to run when required
// upstream artifacts are missing.
func (o *Orchestrator) validateUpstream(projectID string, mode Mode, stage Stage) error {
	specs := validator.SpecsForMode(string(mode))
	if specs == nil {
		return nil
	}
	for _, dep := range stage.Requires {
		res, err := validator.Validate(specs, dep, o.cfg.ScratchpadRoot(), projectID)
		if err != nil {
			return err
		}
		if !res.Valid {
			return fmt.Errorf("orchestrator: stage %q refuses to run: predecessor %q missing required artifact(s) %v", stage.Name, dep, res.Missing)
		}
	}
	return nil
}

// pruneByArtifacts removes any candidate stage whose required artifacts
// are missing from the pre-completed set.
func (o *Orchestrator) pruneByArtifacts(projectID string, mode Mode, candidates []string) []string {
	specs := validator.SpecsForMode(string(mode))
	if specs == nil {
		return candidates
	}
	var kept []string
	for _, stage := range candidates {
		res, err := validator.Validate(specs, stage, o.cfg.ScratchpadRoot(), projectID)
		if err == nil && res.Valid {
			kept = append(kept, stage)
		}
	}
	return kept
}

// finalize marks the project merged. Only reached once reviewsSettled
// reports every reviewed issue lineage ended in a Merge decision — a
// session with outstanding rework pauses instead (best-effort: an invalid
// transition from an already-terminal state is not itself a failure worth
// surfacing).
func (o *Orchestrator) finalize(sess *Session) {
	_, _ = o.store.Transition(sess.ProjectID, scratchpad.StateMerged, scratchpad.TriggerNormal, "orchestrator", "pipeline completed; reviews settled")
}

// demoteStages removes the named stages' results from the session so a
// resume treats them as not completed and runs them again.
func demoteStages(sess *Session, names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := sess.Stages[:0:0]
	for _, sr := range sess.Stages {
		if !drop[sr.Stage] {
			kept = append(kept, sr)
		}
	}
	sess.Stages = kept
	var pre []string
	for _, n := range sess.PreCompleted {
		if !drop[n] {
			pre = append(pre, n)
		}
	}
	sess.PreCompleted = pre
}

func allPresent(stages []Stage, completed map[string]bool) bool {
	for _, s := range stages {
		if !completed[s.Name] {
			return false
		}
	}
	return true
}

func completedNames(sess Session) []string {
	set := sess.completedSet()
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stagesBefore(mode Mode, target string) []string {
	stages := topoOrder(StagesForMode(mode))
	var before []string
	for _, s := range stages {
		if s.Name == target {
			break
		}
		before = append(before, s.Name)
	}
	return before
}

func unionStrings(a, b []string) []string {
	set := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !set[s] {
			set[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// gateTargetState maps each stage with a default approval gate to the
// lifecycle state a normal-trigger transition advances to on approval.
// Stages with no direct lifecycle analog (e.g. enhancement's
// impact_analysis) are intentionally absent: their approval still unblocks
// downstream stages via Session.PendingGate, just without a project-level
// state transition.
var gateTargetState = map[string]scratchpad.ProjectState{
	"collection":       scratchpad.StatePRDDrafting,
	"prd_generation":   scratchpad.StatePRDApproved,
	"srs_generation":   scratchpad.StateSRSApproved,
	"sds_generation":   scratchpad.StateSDSApproved,
	"issue_generation": scratchpad.StateIssuesCreated,
	"issue_import":     scratchpad.StateIssuesCreated,
	"pr_review":        scratchpad.StatePRReview,
}
