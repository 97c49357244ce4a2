package scratchpad

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// WorkStep is one node of the worker step taxonomy.
type WorkStep string

const (
	StepContextAnalysis WorkStep = "context_analysis"
	StepBranchCreation   WorkStep = "branch_creation"
	StepCodeGeneration   WorkStep = "code_generation"
	StepTestGeneration   WorkStep = "test_generation"
	StepVerification     WorkStep = "verification"
	StepCommit           WorkStep = "commit"
	StepResultPersistence WorkStep = "result_persistence"
)

// resumableSteps names which steps may be resumed in place; the rest
// force restart from an earlier resumable step.
var resumableSteps = map[WorkStep]bool{
	StepContextAnalysis: true,
	StepBranchCreation:  true,
	StepCodeGeneration:  true,
	StepTestGeneration:  true,
	StepVerification:    false,
	StepCommit:          false,
	StepResultPersistence: false,
}

// Resumable reports whether a step may be restarted in place.
func (s WorkStep) Resumable() bool { return resumableSteps[s] }

// RestartStep returns the resumable step a non-resumable step restarts
// from (verification and commit restart from code_generation).
func (s WorkStep) RestartStep() WorkStep {
	if s.Resumable() {
		return s
	}
	return StepCodeGeneration
}

// Checkpoint is a resume snapshot for one work order.
type Checkpoint struct {
	ID          string         `yaml:"id" json:"id"`
	WorkOrderID string         `yaml:"work_order_id" json:"work_order_id"`
	Step        WorkStep       `yaml:"step" json:"step"`
	Attempt     int            `yaml:"attempt" json:"attempt"`
	State       map[string]any `yaml:"state" json:"state"`
	CreatedAt   time.Time      `yaml:"created_at" json:"created_at"`
	ExpiresAt   time.Time      `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Resumable reports whether this checkpoint's step may be resumed in
// place rather than restarted.
func (c Checkpoint) Resumable() bool { return c.Step.Resumable() }

func (s *Store) checkpointPath(workOrderID string) string {
	return filepath.Join(s.cfg.CheckpointsDir(), workOrderID+".yaml")
}

// CreateCheckpoint persists a new checkpoint for a work order. Checkpoint
// monotonicity is enforced: callers always overwrite the single
// checkpoint file per work order, so the latest write strictly supersedes
// earlier ones.
func (s *Store) CreateCheckpoint(workOrderID string, step WorkStep, attempt int, state map[string]any) (Checkpoint, error) {
	cp := Checkpoint{
		ID:          uuid.NewString(),
		WorkOrderID: workOrderID,
		Step:        step,
		Attempt:     attempt,
		State:       state,
		CreatedAt:   s.now(),
	}
	path := s.checkpointPath(workOrderID)
	lock := newFileLock(path)
	release, err := lock.Acquire("create_checkpoint", s.lockWait)
	if err != nil {
		return Checkpoint{}, err
	}
	defer release()

	data, err := yaml.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("scratchpad: encode checkpoint: %w", err)
	}
	if err := atomicWrite(path, data); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// RestoreCheckpoint returns the persisted checkpoint for a work order, or
// (Checkpoint{}, false, nil) if none exists.
func (s *Store) RestoreCheckpoint(workOrderID string) (Checkpoint, bool, error) {
	path := s.checkpointPath(workOrderID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	var cp Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return cp, true, nil
}

// ClearCheckpoint removes the checkpoint for a work order (called on
// a successful retry run).
func (s *Store) ClearCheckpoint(workOrderID string) error {
	if err := os.Remove(s.checkpointPath(workOrderID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("scratchpad: clear checkpoint: %w", err)
	}
	return nil
}
