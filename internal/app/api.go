package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conveyor/internal/bus"
	"conveyor/internal/output"
	"conveyor/internal/params"
	"conveyor/internal/pipeline"
	"conveyor/internal/registry"
)

// PipelineView is the boundary representation of a pipeline and its
// current schedule state.
type PipelineView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	ScheduleEnabled bool   `json:"schedule_enabled"`
	// ActiveRunID is the in-flight run, 0 while the pipeline is idle.
	ActiveRunID int64         `json:"active_run_id,omitempty"`
	Tasks       []TaskView    `json:"tasks"`
	Triggers    []TriggerView `json:"triggers"`
}

type TaskView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type TriggerView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	Timezone string        `json:"timezone,omitempty"`
	Params   params.Values `json:"params,omitempty"`
	Paused   bool          `json:"paused"`
	// NextFire is nil while the pipeline's schedule is disabled or the
	// trigger is paused.
	NextFire *time.Time `json:"next_fire,omitempty"`
}

// ListPipelines returns all registered pipelines in registration order.
func (a *App) ListPipelines() []PipelineView {
	defs := a.pipes.List()
	out := make([]PipelineView, 0, len(defs))
	for _, p := range defs {
		out = append(out, a.viewOf(p))
	}
	return out
}

// GetPipeline returns one pipeline or registry.ErrNotFound.
func (a *App) GetPipeline(id string) (PipelineView, error) {
	p := a.pipes.Get(id)
	if p == nil {
		return PipelineView{}, fmt.Errorf("%w: pipeline %q", registry.ErrNotFound, id)
	}
	return a.viewOf(p), nil
}

// SetScheduleEnabled flips a pipeline's schedule flag and returns the
// updated view with recomputed next-fire times.
func (a *App) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (PipelineView, error) {
	p, err := a.pipes.SetScheduleEnabled(ctx, id, enabled)
	if err != nil {
		return PipelineView{}, fmt.Errorf("%w: pipeline %q", registry.ErrNotFound, id)
	}
	return a.viewOf(p), nil
}

// RunPipeline starts a manual run. triggerID may be empty for a run not
// tied to any trigger; when set, that trigger's default params form the
// middle resolution tier.
//
// Errors: registry.ErrNotFound (unknown pipeline or trigger),
// *params.ValidationError, registry.ErrConflict (active run exists).
func (a *App) RunPipeline(ctx context.Context, pipelineID, triggerID string, manual params.Values) (registry.Run, error) {
	p := a.pipes.Get(pipelineID)
	if p == nil {
		return registry.Run{}, fmt.Errorf("%w: pipeline %q", registry.ErrNotFound, pipelineID)
	}
	var tr *pipeline.Trigger
	if triggerID != "" {
		if tr = p.Trigger(triggerID); tr == nil {
			return registry.Run{}, fmt.Errorf("%w: trigger %q of pipeline %q", registry.ErrNotFound, triggerID, pipelineID)
		}
	}
	return a.exec.Submit(ctx, p, tr, manual)
}

// CancelRun requests cooperative cancellation.
func (a *App) CancelRun(runID int64) error {
	return a.exec.Cancel(runID)
}

// ListRuns returns runs newest first, optionally filtered. limit <= 0
// means all.
func (a *App) ListRuns(pipelineID, triggerID string, limit int) []registry.Run {
	return a.runs.ListRuns(pipelineID, triggerID, limit)
}

// GetRun returns one run or registry.ErrNotFound.
func (a *App) GetRun(runID int64) (registry.Run, error) {
	return a.runs.GetRun(runID)
}

// GetRunLogs returns a run's full log so far. Live runs are served from
// the in-memory log; finished runs fall back to storage.
func (a *App) GetRunLogs(ctx context.Context, runID int64) ([]bus.LogEntry, error) {
	if entries, ok := a.events.History(runID); ok {
		return entries, nil
	}
	if _, err := a.runs.GetRun(runID); err != nil {
		return nil, err
	}
	if a.store == nil {
		return nil, nil
	}
	recs, err := a.store.ListLogs(ctx, runID)
	if err != nil {
		return nil, err
	}
	entries := make([]bus.LogEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, bus.LogEntry{
			RunID:   r.RunID,
			Seq:     r.Seq,
			At:      r.At,
			Level:   r.Level,
			Task:    r.Task,
			Message: r.Message,
			Detail:  r.Detail,
		})
	}
	return entries, nil
}

// SubscribeRunLogs returns a run's history plus a live tail channel. The
// seam is atomic: no entry is duplicated or skipped. For finished runs the
// live channel is already closed.
func (a *App) SubscribeRunLogs(ctx context.Context, runID int64, buffer int) (history []bus.LogEntry, live <-chan bus.LogEntry, cancel func(), err error) {
	history, live, cancel, ok := a.events.SubscribeLogs(runID, buffer)
	if ok {
		return history, live, cancel, nil
	}
	// Not in memory: a finished pre-restart run, or unknown.
	history, err = a.GetRunLogs(ctx, runID)
	if err != nil {
		return nil, nil, nil, err
	}
	closed := make(chan bus.LogEntry)
	close(closed)
	return history, closed, func() {}, nil
}

// SubscribeRunStatus subscribes to the global run-status channel.
func (a *App) SubscribeRunStatus(buffer int) (<-chan bus.StatusEvent, func()) {
	return a.events.SubscribeStatus(buffer)
}

// GetRunOutput returns a task's stored output blob.
//
// Errors: registry.ErrNotFound wrapped for unknown run/task or a task that
// produced no output.
func (a *App) GetRunOutput(runID int64, taskID string) ([]byte, error) {
	run, err := a.runs.GetRun(runID)
	if err != nil {
		return nil, err
	}
	for _, tr := range run.Tasks {
		if tr.TaskID != taskID {
			continue
		}
		if !tr.HasOutput || a.outputs == nil {
			return nil, fmt.Errorf("%w: run %d task %q has no output", registry.ErrNotFound, runID, taskID)
		}
		b, err := a.outputs.Read(runID, taskID)
		if errors.Is(err, output.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %d task %q has no output", registry.ErrNotFound, runID, taskID)
		}
		return b, err
	}
	return nil, fmt.Errorf("%w: run %d has no task %q", registry.ErrNotFound, runID, taskID)
}

func (a *App) viewOf(p *pipeline.Pipeline) PipelineView {
	v := PipelineView{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		ScheduleEnabled: a.pipes.ScheduleEnabled(p.ID),
	}
	if run, ok := a.runs.ActiveRun(p.ID); ok {
		v.ActiveRunID = run.ID
	}
	for _, t := range p.Tasks {
		v.Tasks = append(v.Tasks, TaskView{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	for _, tr := range p.Triggers {
		tv := TriggerView{
			ID:       tr.ID,
			Name:     tr.Name,
			Schedule: tr.Schedule,
			Timezone: tr.Timezone,
			Params:   tr.Params,
			Paused:   tr.Paused,
		}
		if at, ok := a.sched.NextFire(p.ID, tr.ID); ok {
			tv.NextFire = &at
		}
		v.Triggers = append(v.Triggers, tv)
	}
	return v
}
