package retry

import (
	"time"

	"github.com/google/uuid"
)

// AttemptLog records one attempt made while executing an operation.
type AttemptLog struct {
	Attempt   int           `yaml:"attempt" json:"attempt"`
	Category  Category      `yaml:"category" json:"category"`
	Error     string        `yaml:"error" json:"error"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
	Timestamp time.Time     `yaml:"timestamp" json:"timestamp"`
}

// EscalationReport is emitted on terminal failure: task id,
// worker id, categorised error, full attempt log, progress snapshot, and
// a recommendation. It is persisted as a first-class artifact under
// progress/{projectId}/escalations/ so a paused session's history
// survives restarts.
type EscalationReport struct {
	ID             string         `yaml:"id" json:"id"`
	TaskID         string         `yaml:"task_id" json:"task_id"`
	WorkerID       string         `yaml:"worker_id,omitempty" json:"worker_id,omitempty"`
	Category       Category       `yaml:"category" json:"category"`
	Error          string         `yaml:"error" json:"error"`
	Attempts       []AttemptLog   `yaml:"attempts" json:"attempts"`
	ProgressSnapshot map[string]any `yaml:"progress_snapshot,omitempty" json:"progress_snapshot,omitempty"`
	Recommendation string         `yaml:"recommendation" json:"recommendation"`
	CreatedAt      time.Time      `yaml:"created_at" json:"created_at"`
}

// EscalationCallback is the caller-provided sink an EscalationReport is
// emitted to on terminal failure.
type EscalationCallback func(EscalationReport) error

func newEscalation(taskID, workerID string, ce *CategorizedError, attempts []AttemptLog, snapshot map[string]any, now time.Time) EscalationReport {
	return EscalationReport{
		ID:               "ESC-" + uuid.NewString()[:8],
		TaskID:           taskID,
		WorkerID:         workerID,
		Category:         ce.Category,
		Error:            ce.Error(),
		Attempts:         attempts,
		ProgressSnapshot: snapshot,
		Recommendation:   recommend(ce.Category),
		CreatedAt:        now,
	}
}

func recommend(cat Category) string {
	switch cat {
	case CategoryFatal:
		return "fatal error; inspect logs and resolve manually before resuming this task"
	case CategoryRecoverable:
		return "automatic fixes were exhausted; manual intervention is needed on the failing check"
	case CategoryTransient:
		return "retries were exhausted against a transient condition; check external service health and resume"
	default:
		return "inspect the attempt log and resume once the underlying condition is resolved"
	}
}
