package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"conveyor/internal/bus"
	"conveyor/internal/params"
	"conveyor/internal/pipeline"
	"conveyor/internal/registry"
	"conveyor/internal/storage"
	logx "conveyor/pkg/logx"
)

// Executor starts and supervises run goroutines, one per accepted run.
type Executor struct {
	log   logx.Logger
	reg   *registry.Registry
	bus   *bus.Bus
	out   OutputWriter
	store storage.Store

	mu      sync.Mutex
	cancels map[int64]*cancelToken

	wg sync.WaitGroup
}

// OutputWriter persists a task's returned output and yields its reference.
// Implemented by the output store; may be nil (outputs are then dropped).
type OutputWriter interface {
	Write(runID int64, taskID string, v any) (ref string, err error)
}

type cancelToken struct {
	requested atomic.Bool
	cancel    context.CancelFunc
}

func New(log logx.Logger, reg *registry.Registry, b *bus.Bus, out OutputWriter, store storage.Store) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{
		log:     log,
		reg:     reg,
		bus:     b,
		out:     out,
		store:   store,
		cancels: map[int64]*cancelToken{},
	}
	// Status events are published from inside the registry's commit, so
	// subscribers see transitions in the order they happened across runs.
	reg.OnStatus(e.onRunStatus)
	return e
}

// onRunStatus runs under the registry lock; it must stay non-blocking.
func (e *Executor) onRunStatus(run registry.Run) {
	if run.Status == registry.RunPending {
		e.bus.OpenRun(run.ID)
	}
	e.bus.PublishStatus(bus.StatusEvent{
		RunID:      run.ID,
		PipelineID: run.PipelineID,
		TriggerID:  run.TriggerID,
		Status:     string(run.Status),
	})
}

// Submit resolves parameters, creates the run and starts its executor
// goroutine.
//
// Errors before run creation: *params.ValidationError for bad parameters,
// registry.ErrConflict when the pipeline already has an active run. The
// returned Run only confirms the run was accepted; task failures surface
// asynchronously via the status and log channels.
func (e *Executor) Submit(ctx context.Context, p *pipeline.Pipeline, trigger *pipeline.Trigger, manual params.Values) (registry.Run, error) {
	var triggerDefaults params.Values
	triggerID := ""
	if trigger != nil {
		triggerDefaults = trigger.Params
		triggerID = trigger.ID
	}

	resolved, err := params.Resolve(p.Params, triggerDefaults, manual)
	if err != nil {
		return registry.Run{}, err
	}

	run, err := e.reg.CreateRun(ctx, p.ID, triggerID, resolved)
	if err != nil {
		return registry.Run{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	tok := &cancelToken{cancel: cancel}
	e.mu.Lock()
	e.cancels[run.ID] = tok
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				// A panic outside task recovery is a core bug; log it loudly
				// and re-panic so it is not swallowed.
				e.log.Error("panic in run executor",
					logx.Int64("run", run.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				panic(r)
			}
		}()
		e.drive(runCtx, p, run)
	}()

	return run, nil
}

// Cancel requests cooperative cancellation of a run.
//
// Returns registry.ErrNotFound for unknown runs and registry.ErrConflict
// when the run is not pending/running (cancelling a finished run is a
// caller error, not a no-op).
func (e *Executor) Cancel(runID int64) error {
	run, err := e.reg.GetRun(runID)
	if err != nil {
		return err
	}
	if !run.Status.Active() {
		return fmt.Errorf("%w: run %d is %s, not cancellable", registry.ErrConflict, runID, run.Status)
	}

	e.mu.Lock()
	tok := e.cancels[runID]
	e.mu.Unlock()
	if tok == nil {
		return fmt.Errorf("%w: run %d is %s, not cancellable", registry.ErrConflict, runID, run.Status)
	}
	if tok.requested.Swap(true) {
		return nil // already requested
	}
	tok.cancel()
	e.log.Info("run cancellation requested", logx.Int64("run", runID), logx.String("pipeline", run.PipelineID))
	return nil
}

// Wait blocks until all in-flight runs finish or ctx expires.
func (e *Executor) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// drive owns the run from pending to a terminal state.
func (e *Executor) drive(ctx context.Context, p *pipeline.Pipeline, run registry.Run) {
	sink := &runLogger{exec: e, runID: run.ID}
	tok := e.token(run.ID)

	defer e.finishRun(run.ID)

	if tok.requested.Load() {
		sink.runLevel(pipeline.LevelWarning, "run cancelled before start", "")
		e.reg.Transition(run.ID, registry.RunCancelled)
		return
	}

	e.reg.Transition(run.ID, registry.RunRunning)
	sink.runLevel(pipeline.LevelInfo, fmt.Sprintf("run %d started (%d tasks)", run.ID, len(p.Tasks)), "")

	for _, task := range p.Tasks {
		if tok.requested.Load() {
			sink.runLevel(pipeline.LevelWarning, "run cancelled, remaining tasks skipped", "")
			e.reg.Transition(run.ID, registry.RunCancelled)
			return
		}

		if failed := e.runTask(ctx, p, run, task, sink); failed {
			e.reg.Transition(run.ID, registry.RunFailed)
			return
		}
	}

	fin := e.reg.Transition(run.ID, registry.RunCompleted)
	sink.runLevel(pipeline.LevelInfo, fmt.Sprintf("run %d completed in %s", run.ID, fin.Duration.Round(time.Millisecond)), "")
}

// runTask executes one task and records its outcome. Returns true when the
// run must fail fast.
func (e *Executor) runTask(ctx context.Context, p *pipeline.Pipeline, run registry.Run, task pipeline.Task, sink *runLogger) (failed bool) {
	e.reg.AppendTaskRun(run.ID, registry.TaskRun{TaskID: task.ID, Status: registry.TaskRunning})
	sink.task = task.ID
	defer func() { sink.task = "" }()
	sink.emit(pipeline.LevelInfo, fmt.Sprintf("task %s started", task.ID), "")

	start := time.Now()
	out, err := e.invoke(ctx, run, task, sink)
	took := time.Since(start)

	if err != nil {
		detail := err.Error()
		if st, ok := err.(*taskPanicError); ok {
			detail = st.Error() + "\n" + st.stack
		}
		sink.emit(pipeline.LevelError, fmt.Sprintf("task %s failed: %v", task.ID, err), detail)
		e.reg.UpdateTaskRun(run.ID, task.ID, func(tr *registry.TaskRun) {
			tr.Status = registry.TaskFailed
			tr.Duration = took
		})
		return true
	}

	hasOutput := false
	ref := ""
	if out != nil && e.out != nil {
		r, werr := e.out.Write(run.ID, task.ID, out)
		if werr != nil {
			sink.emit(pipeline.LevelWarning, fmt.Sprintf("task %s output not stored: %v", task.ID, werr), "")
		} else {
			hasOutput = true
			ref = r
		}
	}

	e.reg.UpdateTaskRun(run.ID, task.ID, func(tr *registry.TaskRun) {
		tr.Status = registry.TaskCompleted
		tr.Duration = took
		tr.HasOutput = hasOutput
		tr.OutputRef = ref
	})
	sink.emit(pipeline.LevelInfo, fmt.Sprintf("task %s completed in %s", task.ID, took.Round(time.Millisecond)), "")
	return false
}

type taskPanicError struct {
	val   any
	stack string
}

func (e *taskPanicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }

// invoke calls the task body with panic recovery. A panicking task fails
// its run like any other task error instead of taking the process down.
func (e *Executor) invoke(ctx context.Context, run registry.Run, task pipeline.Task, sink *runLogger) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &taskPanicError{val: r, stack: logx.CallerStack()}
		}
	}()
	tc := &pipeline.TaskContext{
		RunID:      run.ID,
		PipelineID: run.PipelineID,
		TaskID:     task.ID,
		Params:     run.Params,
		Log:        sink,
	}
	return task.Run(ctx, tc)
}

func (e *Executor) token(runID int64) *cancelToken {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels[runID]
}

func (e *Executor) finishRun(runID int64) {
	e.mu.Lock()
	tok := e.cancels[runID]
	delete(e.cancels, runID)
	e.mu.Unlock()
	if tok != nil {
		tok.cancel()
	}

	e.bus.CloseRun(runID)
	if e.store != nil {
		// History is durable; drop the in-memory copy.
		e.bus.ReleaseRun(runID)
	}
}
