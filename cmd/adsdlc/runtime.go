package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
	"github.com/ad-sdlc/pipeline-core/internal/agent/execrunner"
	"github.com/ad-sdlc/pipeline-core/internal/agent/plugin"
	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/eventbridge"
	"github.com/ad-sdlc/pipeline-core/internal/logbook"
	"github.com/ad-sdlc/pipeline-core/internal/obslog"
	"github.com/ad-sdlc/pipeline-core/internal/orchestrator"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
	"github.com/ad-sdlc/pipeline-core/internal/scratchpad"
	"github.com/ad-sdlc/pipeline-core/internal/workerpool"
	"github.com/ad-sdlc/pipeline-core/internal/worksteps"
)

// runtime wires every subsystem for one CLI invocation. The projectID
// field is set once the command knows which project it operates on; the
// escalation sink closes over it.
type runtime struct {
	cfg       *config.Config
	log       *obslog.Logger
	book      *logbook.Logbook
	bridge    *eventbridge.Bridge
	server    *eventbridge.Server
	store     *scratchpad.Store
	adapter   *agent.Adapter
	executor  *retry.Executor
	orch      *orchestrator.Orchestrator
	projectID string
}

// newRuntime assembles the process-wide object graph rooted at projectDir.
func newRuntime(projectDir string, skipApproval bool) (*runtime, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, userError{err}
	}

	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("ensure logs dir: %w", err)
	}
	log, err := obslog.New(os.Getenv("LOG_LEVEL"), operationalLogPath(cfg), nil)
	if err != nil {
		return nil, fmt.Errorf("open operational log: %w", err)
	}
	book, err := logbook.New(pipelineLogPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open logbook: %w", err)
	}

	bridge := eventbridge.NewBridge(nil)
	store := scratchpad.NewStore(cfg, scratchpad.WithWatcher(bridge))

	registry, err := agent.NewRegistry(cfg)
	if err != nil {
		return nil, userError{err}
	}
	if err := plugin.LoadDir(cfg.AgentPluginsDir(), registry); err != nil {
		return nil, userError{err}
	}
	adapter := agent.NewAdapter(registry, execrunner.New(cfg.Agents.Command))

	rt := &runtime{
		cfg: cfg, log: log, book: book,
		bridge: bridge, store: store, adapter: adapter,
	}

	openTimeout, _ := time.ParseDuration(cfg.Workflow.CircuitBreaker.OpenTimeout)
	if openTimeout <= 0 {
		openTimeout = 60 * time.Second
	}
	rt.executor = retry.NewExecutor(store, rt.persistEscalation,
		retry.WithBreakerConfig(retry.BreakerConfig{
			FailureThreshold: uint32(cfg.Workflow.CircuitBreaker.FailureThreshold),
			OpenTimeout:      openTimeout,
		}))

	pool := workerpool.NewPool(cfg.Workflow.MaxWorkers)
	reviewPool := workerpool.NewPRReviewPool(cfg.Workflow.PRReview.Capacity, cfg.Workflow.PRReview.SharePool, pool)
	deps := worksteps.Deps{Cfg: cfg, Adapter: adapter}
	controller := orchestrator.NewController(cfg, store, rt.executor, pool, reviewPool,
		deps.StepFuncs(), deps.Fixers(),
		orchestrator.DefaultReviewer(orchestrator.ReviewThresholds{}), deps.MergePR)

	stageTimeout, _ := time.ParseDuration(cfg.Workflow.Timeouts.AgentInvocation)
	opts := []orchestrator.Option{orchestrator.WithSkipApproval(skipApproval || cfg.Workflow.SkipApproval)}
	if stageTimeout > 0 {
		opts = append(opts, orchestrator.WithStageTimeout(stageTimeout))
	}
	rt.orch = orchestrator.New(cfg, store, orchestrator.NewAgentStageRunner(store, adapter), controller, rt.executor, opts...)
	return rt, nil
}

func operationalLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.LogsDir(), "operational.jsonl")
}

func pipelineLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.LogsDir(), "pipeline.log")
}

// startBridge brings up the loopback event server and the scratchpad file
// watcher, and exports the bridge URL so agent subprocesses can post
// artifact-change events back. Disabled bridges are not an error.
func (rt *runtime) startBridge(ctx context.Context) func() {
	settings := eventbridge.SettingsFromConfig(rt.cfg)
	if !settings.Enabled {
		return func() {}
	}
	server := eventbridge.NewServer(settings, eventbridge.WithProcessor(rt.bridge.Router()))
	if err := server.Start(ctx); err != nil {
		rt.log.Warn("event bridge disabled: " + err.Error())
		return func() {}
	}
	rt.server = server
	_ = os.Setenv("ADSDLC_BRIDGE_URL", server.BaseURL())

	watchCtx, cancel := context.WithCancel(ctx)
	go func() { _ = rt.bridge.WatchTree(watchCtx, rt.cfg.ScratchpadRoot()) }()
	return func() {
		cancel()
		_ = server.Shutdown(context.Background())
	}
}

// persistEscalation is the retry layer's escalation sink: the report is
// written under the project's escalations directory and echoed into both
// logs, so a paused session's history survives restarts.
func (rt *runtime) persistEscalation(report retry.EscalationReport) error {
	rt.book.Escalation(report.TaskID, string(report.Category), report.Recommendation)
	rt.log.Error("escalation", obslog.String("task_id", report.TaskID), obslog.String("category", string(report.Category)))
	if rt.projectID == "" {
		return nil
	}
	dir := rt.cfg.EscalationsDir(rt.projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, report.ID+".yaml"), data, 0o644)
}

// resolveProjectID returns explicit if given, otherwise the sole project
// found in the scratchpad info tree; zero or many projects is a user
// error naming the candidates.
func resolveProjectID(cfg *config.Config, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	infoRoot := filepath.Join(cfg.ScratchpadRoot(), "info")
	entries, err := os.ReadDir(infoRoot)
	if err != nil {
		return "", userError{fmt.Errorf("no projects found under %s (run start first)", infoRoot)}
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	switch len(ids) {
	case 0:
		return "", userError{fmt.Errorf("no projects found under %s (run start first)", infoRoot)}
	case 1:
		return ids[0], nil
	default:
		return "", userError{fmt.Errorf("multiple projects found %v; pass a project id", ids)}
	}
}

// loadSessions reads every persisted session for a project, newest first.
func loadSessions(cfg *config.Config, projectID string) ([]orchestrator.Session, error) {
	dir := filepath.Join(cfg.ProgressDir(projectID), "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sessions []orchestrator.Session
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var sess orchestrator.Session
		if err := yaml.Unmarshal(data, &sess); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	return sessions, nil
}
