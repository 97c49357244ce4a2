package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/depgraph"
	"gopkg.in/yaml.v3"
)

// SnapshotInterval is how often the Monitor writes controller_state.yaml
// absent an explicit state change.
const SnapshotInterval = 30 * time.Second

// ControllerSnapshot is the persisted view of pool + graph state that the
// orchestrator and TUI read to render progress.
type ControllerSnapshot struct {
	Timestamp  time.Time      `yaml:"timestamp"`
	Capacity   int            `yaml:"capacity"`
	Active     int            `yaml:"active"`
	RunningIDs []string       `yaml:"running_ids"`
	Stats      depgraph.Stats `yaml:"stats"`
}

// Monitor periodically snapshots a Pool + Analyzer pair to a path.
type Monitor struct {
	pool     *Pool
	analyzer *depgraph.Analyzer
	path     string
	now      func() time.Time

	changed chan struct{}
}

// NewMonitor builds a Monitor targeting path (normally
// config.Config.ControllerStatePath(projectID)).
func NewMonitor(pool *Pool, analyzer *depgraph.Analyzer, path string) *Monitor {
	return &Monitor{pool: pool, analyzer: analyzer, path: path, now: time.Now, changed: make(chan struct{}, 1)}
}

// NotifyChange requests an out-of-band snapshot write on the next tick
// rather than waiting the full interval (called when a work order starts
// or finishes).
func (m *Monitor) NotifyChange() {
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// Run writes a snapshot immediately, then on every SnapshotInterval tick
// or NotifyChange signal, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.snapshot(); err != nil {
		return err
	}
	ticker := time.NewTicker(SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.snapshot(); err != nil {
				return err
			}
		case <-m.changed:
			if err := m.snapshot(); err != nil {
				return err
			}
		}
	}
}

func (m *Monitor) snapshot() error {
	snap := ControllerSnapshot{
		Timestamp:  m.now(),
		Capacity:   m.pool.Capacity(),
		Active:     m.pool.Active(),
		RunningIDs: m.pool.RunningIDs(),
		Stats:      m.analyzer.Stats(),
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("workerpool: encode snapshot: %w", err)
	}
	return atomicWriteFile(m.path, data)
}

// atomicWriteFile mirrors internal/scratchpad's temp-file-then-rename
// write, kept as a package-local copy since the snapshot path lives
// outside any locked scratchpad section.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workerpool: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("workerpool: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("workerpool: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("workerpool: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("workerpool: close snapshot: %w", err)
	}
	return os.Rename(tmpPath, path)
}
