package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/logbook"
	"github.com/ad-sdlc/pipeline-core/internal/orchestrator"
	"github.com/ad-sdlc/pipeline-core/internal/tui"
	"github.com/ad-sdlc/pipeline-core/internal/workerpool"
)

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	watch := fs.Bool("watch", false, "open the live dashboard instead of a one-shot print")
	if err := fs.Parse(args); err != nil {
		return userError{err}
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return userError{err}
	}
	projectID, err := resolveProjectID(cfg, fs.Arg(0))
	if err != nil {
		return err
	}

	loader := statusLoader(cfg, projectID)
	if *watch {
		return tui.RunStatus(loader)
	}
	snap, err := loader()
	if err != nil {
		return err
	}
	printSnapshot(snap)
	return nil
}

// statusLoader builds the dashboard's view of one project from disk: the
// newest session, the controller snapshot, and the logbook tail.
func statusLoader(cfg *config.Config, projectID string) tui.SnapshotLoader {
	return func() (tui.StatusSnapshot, error) {
		snap := tui.StatusSnapshot{ProjectID: projectID}

		sessions, err := loadSessions(cfg, projectID)
		if err != nil {
			return snap, err
		}
		if len(sessions) > 0 {
			latest := sessions[0]
			snap.SessionID = latest.ID
			snap.Mode = string(latest.Mode)
			snap.SessionStatus = string(latest.Status)
			snap.PendingGate = latest.PendingGate
			snap.PausedReason = latest.PausedReason
			snap.Stages = stageLines(latest)
		}

		if data, err := os.ReadFile(cfg.ControllerStatePath(projectID)); err == nil {
			var ctrl workerpool.ControllerSnapshot
			if err := yaml.Unmarshal(data, &ctrl); err == nil {
				snap.PoolCapacity = ctrl.Capacity
				snap.PoolActive = ctrl.Active
				for _, id := range ctrl.RunningIDs {
					snap.Workers = append(snap.Workers, tui.WorkerLine{ID: id, Current: "working"})
				}
			}
		}

		if book, err := logbook.New(pipelineLogPath(cfg)); err == nil {
			snap.RecentLog, snap.LogTotal = book.Tail(8)
		}
		return snap, nil
	}
}

// stageLines merges the mode's full stage list with the session's recorded
// results, so stages that have not run yet still show as pending.
func stageLines(sess orchestrator.Session) []tui.StageLine {
	status := map[string]string{}
	for _, name := range sess.PreCompleted {
		status[name] = "pre-completed"
	}
	for _, sr := range sess.Stages {
		status[sr.Stage] = string(sr.Status)
	}
	if sess.PendingGate != "" {
		status[sess.PendingGate] = "pending-approval"
	}
	var lines []tui.StageLine
	for _, stage := range orchestrator.StagesForMode(sess.Mode) {
		st := status[stage.Name]
		if st == "" {
			st = "pending"
		}
		lines = append(lines, tui.StageLine{Name: stage.Name, Status: st})
	}
	return lines
}

func printSnapshot(snap tui.StatusSnapshot) {
	fmt.Printf("project:  %s\n", snap.ProjectID)
	if snap.SessionID == "" {
		fmt.Println("no sessions recorded")
		return
	}
	fmt.Printf("session:  %s (%s, %s)\n", snap.SessionID, snap.Mode, snap.SessionStatus)
	if snap.PendingGate != "" {
		fmt.Printf("awaiting approval: %s\n", snap.PendingGate)
	}
	if snap.PausedReason != "" {
		fmt.Printf("paused:   %s\n", snap.PausedReason)
	}
	fmt.Println("stages:")
	for _, st := range snap.Stages {
		fmt.Printf("  %-24s %s\n", st.Name, st.Status)
	}
	fmt.Printf("workers:  %d/%d active\n", snap.PoolActive, snap.PoolCapacity)
	for _, w := range snap.Workers {
		fmt.Printf("  %-10s %s\n", w.ID, w.Current)
	}
	if len(snap.RecentLog) > 0 {
		fmt.Printf("log (last %d of %d):\n", len(snap.RecentLog), snap.LogTotal)
		for _, line := range snap.RecentLog {
			fmt.Printf("  %s\n", line)
		}
	}
}
