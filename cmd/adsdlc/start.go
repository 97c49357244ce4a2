package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/orchestrator"
	"github.com/ad-sdlc/pipeline-core/internal/tui"
)

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return userError{err}
	}
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	if name := fs.Arg(0); name != "" {
		dir = filepath.Join(dir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := config.InitProjectDir(dir); err != nil {
		return err
	}
	fmt.Printf("initialized %s\n", filepath.Join(dir, config.AdSDLCDir))
	return nil
}

func cmdStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	file := fs.String("file", "", "path to a request document")
	url := fs.String("url", "", "URL of a request document")
	text := fs.String("text", "", "request text")
	name := fs.String("name", "", "project name (defaults to the directory name)")
	skipApproval := fs.Bool("skip-approval", false, "disable every approval gate")
	if err := fs.Parse(args); err != nil {
		return userError{err}
	}

	request, err := loadRequest(*file, *url, *text)
	if err != nil {
		return err
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := config.InitProjectDir(projectDir); err != nil {
		return err
	}
	rt, err := newRuntime(projectDir, *skipApproval)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	ctx := context.Background()
	stopBridge := rt.startBridge(ctx)
	defer stopBridge()

	projectID := "proj-" + uuid.NewString()[:8]
	rt.projectID = projectID
	if err := writeRequest(rt.cfg, projectID, request); err != nil {
		return err
	}
	projectName := *name
	if projectName == "" {
		projectName = filepath.Base(projectDir)
	}

	rt.book.Info("starting pipeline for project %s (%s)", projectID, projectName)
	sess, err := rt.orch.Start(ctx, orchestrator.StartRequest{
		ProjectID:   projectID,
		ProjectName: projectName,
	})
	return rt.driveSession(ctx, sess, err)
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	startFrom := fs.String("start-from", "", "treat every stage before this one as pre-completed")
	project := fs.String("project", "", "project id (defaults to the sole project)")
	skipApproval := fs.Bool("skip-approval", false, "disable every approval gate")
	if err := fs.Parse(args); err != nil {
		return userError{err}
	}
	want := fs.Arg(0)
	if want == "" {
		return userError{fmt.Errorf("resume: session id required")}
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}
	rt, err := newRuntime(projectDir, *skipApproval)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	projectID, err := resolveProjectID(rt.cfg, *project)
	if err != nil {
		return err
	}
	rt.projectID = projectID

	sessionID, err := rt.orch.ResolveSessionID(projectID, want)
	if err != nil {
		var amb *orchestrator.AmbiguousSessionError
		if errors.As(err, &amb) {
			return userError{fmt.Errorf("session %q is ambiguous; candidates: %s", want, strings.Join(amb.Candidates, ", "))}
		}
		return userError{err}
	}

	ctx := context.Background()
	stopBridge := rt.startBridge(ctx)
	defer stopBridge()

	req := orchestrator.ResumeRequest{
		ProjectID: projectID,
		SessionID: sessionID,
		Mode:      orchestrator.ResumeContinue,
	}
	if *startFrom != "" {
		req.Mode = orchestrator.ResumeStartFrom
		req.StartFromStage = *startFrom
	}
	rt.book.Info("resuming session %s (mode=%s)", sessionID, req.Mode)
	sess, err := rt.orch.Resume(ctx, req)
	return rt.driveSession(ctx, sess, err)
}

// driveSession loops the approval-gate prompt until the session completes
// or pauses for a reason no prompt can fix. The orchestrator persists the
// session at every pause, so interrupting the prompt loses nothing.
func (rt *runtime) driveSession(ctx context.Context, sess orchestrator.Session, err error) error {
	for {
		if err != nil {
			rt.book.Error("session %s paused: %v", sess.ID, err)
			return pipelineError{fmt.Errorf("session %s paused: %w\nresume with: adsdlc resume %s", sess.ID, err, sess.ID)}
		}
		if sess.PendingGate == "" {
			break
		}
		gate := sess.PendingGate
		decision, perr := tui.RunApproval(gate, lastStageOutput(sess, gate))
		if perr != nil {
			return fmt.Errorf("approval prompt: %w", perr)
		}
		by := approver()
		rt.book.Gate(sess.ID, gate, decision.Approved, by, decision.Reason)
		if decision.Approved {
			sess, err = rt.orch.ApproveGate(ctx, sess.ProjectID, sess.ID, by, decision.Reason)
		} else if decision.Reason == "prompt dismissed" {
			// The operator closed the prompt without deciding; leave the
			// gate pending so resume picks it back up.
			fmt.Printf("session %s awaiting approval for %q; resume with: adsdlc resume %s\n", sess.ID, gate, sess.ID)
			return nil
		} else {
			sess, err = rt.orch.RejectGate(ctx, sess.ProjectID, sess.ID, decision.Reason)
		}
	}
	rt.book.Info("session %s %s", sess.ID, sess.Status)
	fmt.Printf("session %s %s (%d stage(s) recorded)\n", sess.ID, sess.Status, len(sess.Stages))
	if sess.Status != orchestrator.SessionCompleted {
		return pipelineError{fmt.Errorf("session %s ended %s: %s", sess.ID, sess.Status, sess.PausedReason)}
	}
	return nil
}

func lastStageOutput(sess orchestrator.Session, stage string) string {
	for i := len(sess.Stages) - 1; i >= 0; i-- {
		if sess.Stages[i].Stage == stage {
			return sess.Stages[i].Output
		}
	}
	return ""
}

func approver() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "operator"
}

func loadRequest(file, url, text string) (string, error) {
	set := 0
	for _, v := range []string{file, url, text} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return "", userError{fmt.Errorf("start: exactly one of --file, --url, --text is required")}
	}
	switch {
	case text != "":
		return text, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", userError{fmt.Errorf("start: %w", err)}
		}
		return string(data), nil
	default:
		resp, err := http.Get(url)
		if err != nil {
			return "", userError{fmt.Errorf("start: fetch %s: %w", url, err)}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", userError{fmt.Errorf("start: fetch %s: status %d", url, resp.StatusCode)}
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", userError{fmt.Errorf("start: read %s: %w", url, err)}
		}
		return string(data), nil
	}
}

// writeRequest stores the raw user request next to the project's info
// section so the collection stage's agent can read it.
func writeRequest(cfg *config.Config, projectID, request string) error {
	dir := cfg.InfoDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "request.md"), []byte(request), 0o644)
}
