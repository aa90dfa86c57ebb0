package registry

import (
	"errors"
	"time"

	"conveyor/internal/params"
)

var (
	// ErrConflict rejects an operation that would violate a run-state
	// invariant: starting a second active run for a pipeline, or cancelling
	// a run that is not pending/running. No state is mutated.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks lookups of unknown pipeline/trigger/run ids.
	ErrNotFound = errors.New("not found")
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Active reports whether the status counts against the
// one-active-run-per-pipeline invariant.
func (s RunStatus) Active() bool { return s == RunPending || s == RunRunning }

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// TaskStatus is the lifecycle state of a single task within a run.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// TaskRun records the execution of one task within one run.
type TaskRun struct {
	TaskID    string        `json:"task_id"`
	Status    TaskStatus    `json:"status"`
	Duration  time.Duration `json:"duration"`
	HasOutput bool          `json:"has_output"`
	OutputRef string        `json:"output_ref,omitempty"`
}

// Run is one execution instance of a pipeline.
//
// TriggerID is empty for manual runs not tied to any trigger. Duration is
// meaningful once the status is terminal. Tasks is ordered by execution and
// never longer than the pipeline's task list; it is shorter when a
// fail-fast stop or cancellation hit mid-pipeline.
type Run struct {
	ID         int64         `json:"id"`
	PipelineID string        `json:"pipeline_id"`
	TriggerID  string        `json:"trigger_id,omitempty"`
	Status     RunStatus     `json:"status"`
	Params     params.Values `json:"params,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Tasks      []TaskRun     `json:"tasks"`
}

func (r *Run) clone() Run {
	cp := *r
	cp.Tasks = append([]TaskRun(nil), r.Tasks...)
	return cp
}

// legalTransitions is the run-state graph. Everything else is a fault.
var legalTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunCancelled},
	RunRunning: {RunCompleted, RunFailed, RunCancelled},
}

func transitionLegal(from, to RunStatus) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
