package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
)

// stageArtifacts names, for a handful of greenfield stages, the file(s)
// under the scratchpad root that stage's validator.ArtifactSpec requires
// mirroring what a real agent invocation would persist.
func stageArtifacts(projectID string) map[string][]string {
	return map[string][]string{
		"collection":       {fmt.Sprintf("info/%s/collected_info.yaml", projectID)},
		"prd_generation":   {fmt.Sprintf("documents/%s/prd.md", projectID)},
		"srs_generation":   {fmt.Sprintf("documents/%s/srs.md", projectID)},
		"sds_generation":   {fmt.Sprintf("documents/%s/sds.md", projectID)},
		"issue_generation": {fmt.Sprintf("issues/%s/issue_list.json", projectID), fmt.Sprintf("issues/%s/dependency_graph.json", projectID)},
	}
}

type fakeRunner struct {
	root string
	ran  []string
	fail map[string]error
}

func (f *fakeRunner) RunStage(ctx context.Context, project scratchpad.Project, stage Stage) ([]string, string, error) {
	f.ran = append(f.ran, stage.Name)
	if err, ok := f.fail[stage.Name]; ok {
		return nil, "", err
	}
	var artifacts []string
	for _, rel := range stageArtifacts(project.ID)[stage.Name] {
		full := filepath.Join(f.root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, "", err
		}
		body := "{}"
		if filepath.Ext(full) == ".md" || filepath.Ext(full) == ".yaml" {
			body = "placeholder: true"
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			return nil, "", err
		}
		artifacts = append(artifacts, rel)
	}
	return artifacts, "ok: " + stage.Name, nil
}

type fakeController struct {
	root string
}

func (f *fakeController) RunImplementation(ctx context.Context, projectID string) ([]string, string, error) {
	path := filepath.Join(f.root, "progress", projectID, "work_orders", "WO-001.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	if err := os.WriteFile(path, []byte("id: WO-001"), 0o644); err != nil {
		return nil, "", err
	}
	return []string{"WO-001"}, "dispatched 1 issue", nil
}

func (f *fakeController) RunPRReview(ctx context.Context, projectID string) ([]string, string, error) {
	path := filepath.Join(f.root, "progress", projectID, "reviews", "PR-WO-001-review.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	record := "work_order_id: WO-001\nissue_id: ISS-001\ndecision:\n  merge: true\nreviewed_at: 2026-01-01T00:00:00Z\n"
	if err := os.WriteFile(path, []byte(record), 0o644); err != nil {
		return nil, "", err
	}
	return []string{"WO-001"}, "1 merged", nil
}

func newTestOrchestrator(t *testing.T, dir string, runner StageRunner, controller ControllerHandoff, opts ...Option) (*Orchestrator, *config.Config) {
	t.Helper()
	if err := config.InitProjectDir(dir); err != nil {
		t.Fatalf("InitProjectDir: %v", err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	store := scratchpad.NewStore(cfg)
	executor := retry.NewExecutor(nil, nil)
	clock := func() time.Time { return time.Unix(0, 0).UTC() }
	allOpts := append([]Option{WithClock(clock)}, opts...)
	return New(cfg, store, runner, controller, executor, allOpts...), cfg
}

func TestStartGreenfieldHappyPathWithSkipApproval(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	runner := &fakeRunner{root: root, fail: map[string]error{}}
	controller := &fakeController{root: root}

	o, _ := newTestOrchestrator(t, dir, runner, controller, WithSkipApproval(true))

	sess, err := o.Start(context.Background(), StartRequest{ProjectID: "proj-1", ProjectName: "Proj One", Mode: ModeGreenfield})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != SessionCompleted {
		t.Fatalf("status = %q, want completed (stages ran: %v)", sess.Status, runner.ran)
	}
	want := []string{"initialization", "collection", "prd_generation", "srs_generation", "sds_generation", "github_repo_setup", "issue_generation"}
	if len(runner.ran) != len(want) {
		t.Fatalf("ran stages = %v, want %v", runner.ran, want)
	}
}

func TestApproveGateResumesPausedSession(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	runner := &fakeRunner{root: root}
	controller := &fakeController{root: root}
	o, _ := newTestOrchestrator(t, dir, runner, controller)

	sess, err := o.Start(context.Background(), StartRequest{ProjectID: "proj-2", ProjectName: "Proj Two", Mode: ModeGreenfield})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != SessionPaused || sess.PendingGate != "collection" {
		t.Fatalf("sess = %+v, want paused at collection gate", sess)
	}

	sess, err = o.ApproveGate(context.Background(), "proj-2", sess.ID, "alice", "looks good")
	if err != nil {
		t.Fatalf("ApproveGate: %v", err)
	}
	if sess.PendingGate != "prd_generation" {
		t.Fatalf("pending gate after first approve = %q, want prd_generation", sess.PendingGate)
	}

	proj, err := o.store.GetProject("proj-2")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if proj.State != scratchpad.StatePRDDrafting {
		t.Fatalf("project state = %q, want prd_drafting", proj.State)
	}
}

func TestRejectGateDemotesStageAndReruns(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	runner := &fakeRunner{root: root, fail: map[string]error{}}
	controller := &fakeController{root: root}
	o, _ := newTestOrchestrator(t, dir, runner, controller)

	sess, err := o.Start(context.Background(), StartRequest{ProjectID: "proj-3", ProjectName: "Proj Three", Mode: ModeGreenfield})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ranBeforeReject := len(runner.ran)

	sess, err = o.RejectGate(context.Background(), "proj-3", sess.ID, "needs more detail")
	if err != nil {
		t.Fatalf("RejectGate: %v", err)
	}
	if sess.PendingGate != "collection" {
		t.Fatalf("pending gate after reject-and-rerun = %q, want collection again", sess.PendingGate)
	}
	for _, sr := range sess.Stages {
		if sr.Stage == "collection" {
			if sr.StartedAt.IsZero() {
				t.Fatalf("rerun collection stage result missing StartedAt")
			}
		}
	}
	if len(runner.ran) <= ranBeforeReject {
		t.Fatalf("collection was not rerun: ran=%v", runner.ran)
	}
}

func TestResumeStartFromSkipsEarlierStages(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	for _, rel := range []string{
		"info/proj-4/collected_info.yaml",
		"documents/proj-4/prd.md",
		"documents/proj-4/srs.md",
		"documents/proj-4/sds.md",
	} {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("placeholder: true"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	runner := &fakeRunner{root: root}
	controller := &fakeController{root: root}
	o, _ := newTestOrchestrator(t, dir, runner, controller, WithSkipApproval(true))

	if _, err := o.store.CreateProject("proj-4", "Proj Four", ModeGreenfield); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	prior := Session{
		ID: newSessionID(), ProjectID: "proj-4", Mode: ModeGreenfield, Status: SessionCompleted,
		Stages: []StageResult{
			{Stage: "initialization", Status: StageCompleted},
			{Stage: "collection", Status: StageCompleted},
			{Stage: "prd_generation", Status: StageCompleted},
		},
	}
	if err := o.sessions.save(prior); err != nil {
		t.Fatalf("save prior session: %v", err)
	}

	sess, err := o.Resume(context.Background(), ResumeRequest{
		ProjectID: "proj-4", SessionID: prior.ID, Mode: ResumeStartFrom, StartFromStage: "sds_generation",
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if sess.Status != SessionCompleted {
		t.Fatalf("status = %q, ran=%v", sess.Status, runner.ran)
	}
	for _, skipped := range []string{"collection", "prd_generation", "srs_generation"} {
		for _, name := range runner.ran {
			if name == skipped {
				t.Fatalf("stage %q should have been skipped via start_from, but ran again", skipped)
			}
		}
	}
}

func TestRunOneStageFatalRunnerErrorPausesSession(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	runner := &fakeRunner{root: root, fail: map[string]error{"collection": fmt.Errorf("collector crashed")}}
	controller := &fakeController{root: root}
	o, _ := newTestOrchestrator(t, dir, runner, controller)

	sess, err := o.Start(context.Background(), StartRequest{ProjectID: "proj-5", ProjectName: "Proj Five", Mode: ModeGreenfield})
	if err == nil {
		t.Fatal("expected Start to return an error after a fatal stage failure")
	}
	if sess.Status != SessionPaused {
		t.Fatalf("status = %q, want paused", sess.Status)
	}
}

func TestResumeContinueKeepsPendingGate(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	runner := &fakeRunner{root: root}
	controller := &fakeController{root: root}
	o, _ := newTestOrchestrator(t, dir, runner, controller)

	first, err := o.Start(context.Background(), StartRequest{ProjectID: "proj-6", ProjectName: "Proj Six", Mode: ModeGreenfield})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.PendingGate != "collection" {
		t.Fatalf("pending gate = %q, want collection", first.PendingGate)
	}

	resumed, err := o.Resume(context.Background(), ResumeRequest{
		ProjectID: "proj-6", SessionID: first.ID, Mode: ResumeContinue,
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != SessionPaused || resumed.PendingGate != "collection" {
		t.Fatalf("resumed = %+v, want paused at the same gate", resumed)
	}
	if resumed.ID == first.ID {
		t.Fatal("resume must create a new session entity")
	}

	done, err := o.ApproveGate(context.Background(), "proj-6", resumed.ID, "alice", "ok")
	if err != nil {
		t.Fatalf("ApproveGate: %v", err)
	}
	if done.PendingGate != "prd_generation" {
		t.Fatalf("pending gate after approval = %q, want prd_generation", done.PendingGate)
	}
}

// rejectingController writes a changes-requested review, so the session
// must pause with the dispatch stages demoted instead of completing.
type rejectingController struct {
	fakeController
}

func (f *rejectingController) RunPRReview(ctx context.Context, projectID string) ([]string, string, error) {
	path := filepath.Join(f.root, "progress", projectID, "reviews", "PR-WO-001-review.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	record := "work_order_id: WO-001\nissue_id: ISS-001\ndecision:\n  request_changes: true\nreviewed_at: 2026-01-01T00:00:00Z\n"
	if err := os.WriteFile(path, []byte(record), 0o644); err != nil {
		return nil, "", err
	}
	return []string{"WO-001"}, "1 requeued", nil
}

func TestUnsettledReviewsPauseInsteadOfCompleting(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, config.AdSDLCDir, "scratchpad")
	runner := &fakeRunner{root: root}
	controller := &rejectingController{fakeController{root: root}}
	o, _ := newTestOrchestrator(t, dir, runner, controller, WithSkipApproval(true))

	sess, err := o.Start(context.Background(), StartRequest{ProjectID: "proj-7", ProjectName: "Proj Seven", Mode: ModeGreenfield})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != SessionPaused {
		t.Fatalf("status = %q, want paused while rework is outstanding", sess.Status)
	}
	completed := sess.completedSet()
	if completed["implementation"] || completed["pr_review"] {
		t.Fatalf("dispatch stages should be demoted for the next pass: %v", completed)
	}
	proj, err := o.store.GetProject("proj-7")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if proj.State == scratchpad.StateMerged {
		t.Fatal("project must not reach merged with an unsettled review")
	}
}
