package pipeline

import (
	"context"
	"fmt"
	"strings"

	"conveyor/internal/params"
)

// LogLevel classifies run log lines.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// RunLogger is the log sink handed to tasks. Lines are delivered to the
// run's log channel in emission order, synchronously.
type RunLogger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// TaskContext carries everything a task may use during one run.
type TaskContext struct {
	RunID      int64
	PipelineID string
	TaskID     string
	Params     params.Values
	Log        RunLogger
}

// TaskFunc is the body of a task.
//
// ctx is cancelled when the run is cancelled; long operations should watch
// it, otherwise the task runs to natural completion (cooperative
// cancellation). A non-nil output is persisted by the executor and exposed
// through the run output store.
type TaskFunc func(ctx context.Context, tc *TaskContext) (output any, err error)

// Task is one step of a pipeline.
type Task struct {
	ID          string
	Name        string
	Description string
	Run         TaskFunc
}

// Trigger fires its pipeline on a schedule with a default parameter set.
//
// Schedule is a cron expression in the forms robfig/cron accepts: 5-field,
// 6-field with seconds, or descriptors like "@hourly" / "@every 30m".
// Timezone is an optional IANA name; empty means the orchestrator default.
type Trigger struct {
	ID       string
	Name     string
	Schedule string
	Timezone string
	Params   params.Values
	Paused   bool
}

// Pipeline is a named, statically registered job.
type Pipeline struct {
	ID          string
	Name        string
	Description string
	Tasks       []Task
	Triggers    []Trigger
	Params      *params.Schema
}

// Trigger returns the trigger with the given id, or nil.
func (p *Pipeline) Trigger(id string) *Trigger {
	for i := range p.Triggers {
		if p.Triggers[i].ID == id {
			return &p.Triggers[i]
		}
	}
	return nil
}

// Task returns the task with the given id, or nil.
func (p *Pipeline) Task(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

func (p *Pipeline) validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("pipeline id required")
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("pipeline %q has no tasks", p.ID)
	}
	seen := map[string]bool{}
	for _, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("pipeline %q has a task with empty id", p.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("pipeline %q has duplicate task id %q", p.ID, t.ID)
		}
		seen[t.ID] = true
		if t.Run == nil {
			return fmt.Errorf("pipeline %q task %q has nil Run", p.ID, t.ID)
		}
	}
	seen = map[string]bool{}
	for _, tr := range p.Triggers {
		if strings.TrimSpace(tr.ID) == "" {
			return fmt.Errorf("pipeline %q has a trigger with empty id", p.ID)
		}
		if seen[tr.ID] {
			return fmt.Errorf("pipeline %q has duplicate trigger id %q", p.ID, tr.ID)
		}
		seen[tr.ID] = true
		if strings.TrimSpace(tr.Schedule) == "" {
			return fmt.Errorf("pipeline %q trigger %q has no schedule", p.ID, tr.ID)
		}
	}
	if err := p.Params.Validate(); err != nil {
		return fmt.Errorf("pipeline %q schema: %w", p.ID, err)
	}
	return nil
}
