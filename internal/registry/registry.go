package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"conveyor/internal/params"
	"conveyor/internal/storage"
	logx "conveyor/pkg/logx"
)

// Registry holds every run of the process, keyed by run id, plus the
// active-run index used for the conflict check.
//
// All mutations are serialized behind one mutex; the create/Conflict check
// and the transition graph are enforced inside it.
type Registry struct {
	mu     sync.RWMutex
	runs   map[int64]*Run
	active map[string]int64 // pipelineID -> active run id
	nextID int64

	onStatus func(Run)

	log   logx.Logger
	store storage.Store
}

func New(log logx.Logger, store storage.Store) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		runs:   map[int64]*Run{},
		active: map[string]int64{},
		nextID: 1,
		log:    log,
		store:  store,
	}
}

// OnStatus registers the status fanout hook, invoked on every run creation
// and transition. The hook runs with the registry lock held so observers
// see transitions in commit order across all runs; it must be non-blocking
// and must not call back into the registry. Set once, before the first run.
func (r *Registry) OnStatus(fn func(Run)) { r.onStatus = fn }

func (r *Registry) notifyLocked(run *Run) {
	if r.onStatus != nil {
		r.onStatus(run.clone())
	}
}

// Load restores run history from the store and recovers runs interrupted by
// a process restart: anything still pending/running cannot be resumed (the
// executor goroutine is gone), so it is marked failed.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.ListRuns(ctx, storage.RunFilter{})
	if err != nil {
		return err
	}
	// The id sequence advances past every stored id, including records too
	// damaged to restore, so reused ids can never collide on upsert.
	maxID, err := r.store.MaxRunID(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var interrupted []*Run
	for _, rec := range recs {
		run, err := recordToRun(rec)
		if err != nil {
			r.log.Warn("skipping unreadable run record", logx.Int64("run", rec.ID), logx.Err(err))
			continue
		}
		if run.Status.Active() {
			run.Status = RunFailed
			interrupted = append(interrupted, run)
		}
		r.runs[run.ID] = run
	}
	if maxID >= r.nextID {
		r.nextID = maxID + 1
	}
	for _, run := range interrupted {
		r.persistLocked(run)
		r.appendRecoveryLog(ctx, run)
		r.log.Warn("run interrupted by restart, marked failed",
			logx.Int64("run", run.ID), logx.String("pipeline", run.PipelineID))
	}
	r.log.Info("run history loaded", logx.Int("runs", len(r.runs)))
	return nil
}

// CreateRun atomically checks the one-active-run invariant and inserts a
// new pending run. On violation it returns ErrConflict and creates nothing.
func (r *Registry) CreateRun(ctx context.Context, pipelineID, triggerID string, resolved params.Values) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, busy := r.active[pipelineID]; busy {
		return Run{}, fmt.Errorf("%w: pipeline %q already has active run %d", ErrConflict, pipelineID, id)
	}

	run := &Run{
		ID:         r.nextID,
		PipelineID: pipelineID,
		TriggerID:  triggerID,
		Status:     RunPending,
		Params:     resolved,
		StartTime:  time.Now(),
	}
	r.nextID++
	r.runs[run.ID] = run
	r.active[pipelineID] = run.ID
	r.persistLocked(run)
	r.notifyLocked(run)
	return run.clone(), nil
}

// Transition moves a run along the legal state graph.
//
// An illegal transition means the one-active-run bookkeeping or the
// executor's state machine is already corrupted, so it panics instead of
// returning an error.
func (r *Registry) Transition(runID int64, to RunStatus) Run {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		panic(fmt.Sprintf("registry: transition of unknown run %d to %s", runID, to))
	}
	if !transitionLegal(run.Status, to) {
		panic(fmt.Sprintf("registry: illegal transition %s -> %s for run %d", run.Status, to, runID))
	}

	if to == RunRunning {
		run.StartTime = time.Now()
	}
	run.Status = to
	if to.Terminal() {
		run.Duration = time.Since(run.StartTime)
		if r.active[run.PipelineID] == runID {
			delete(r.active, run.PipelineID)
		}
	}
	r.persistLocked(run)
	r.notifyLocked(run)
	return run.clone()
}

// AppendTaskRun adds the next task record to a run. Executor-only.
func (r *Registry) AppendTaskRun(runID int64, tr TaskRun) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		panic(fmt.Sprintf("registry: append task run to unknown run %d", runID))
	}
	run.Tasks = append(run.Tasks, tr)
	r.persistLocked(run)
}

// UpdateTaskRun patches the task record with the given id. Executor-only.
func (r *Registry) UpdateTaskRun(runID int64, taskID string, patch func(*TaskRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		panic(fmt.Sprintf("registry: update task run on unknown run %d", runID))
	}
	for i := range run.Tasks {
		if run.Tasks[i].TaskID == taskID {
			patch(&run.Tasks[i])
			r.persistLocked(run)
			return
		}
	}
	panic(fmt.Sprintf("registry: run %d has no task run %q", runID, taskID))
}

// GetRun returns a copy of the run, or ErrNotFound.
func (r *Registry) GetRun(runID int64) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("%w: run %d", ErrNotFound, runID)
	}
	return run.clone(), nil
}

// ListRuns returns runs newest-first, optionally filtered by pipeline
// and/or trigger. limit <= 0 means no limit.
func (r *Registry) ListRuns(pipelineID, triggerID string, limit int) []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		if pipelineID != "" && run.PipelineID != pipelineID {
			continue
		}
		if triggerID != "" && run.TriggerID != triggerID {
			continue
		}
		out = append(out, run.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ActiveRun returns the pipeline's in-flight run, if any.
func (r *Registry) ActiveRun(pipelineID string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[pipelineID]
	if !ok {
		return Run{}, false
	}
	return r.runs[id].clone(), true
}

// appendRecoveryLog leaves a durable explanation in the run's own log, so a
// client fetching logs of a recovered run does not see it end mid-task.
func (r *Registry) appendRecoveryLog(ctx context.Context, run *Run) {
	seq, err := r.store.MaxLogSeq(ctx, run.ID)
	if err != nil {
		r.log.Warn("recovery log entry skipped", logx.Int64("run", run.ID), logx.Err(err))
		return
	}
	err = r.store.AppendLog(ctx, storage.LogRecord{
		RunID:   run.ID,
		Seq:     seq + 1,
		At:      time.Now(),
		Level:   "ERROR",
		Message: "run interrupted by restart, marked failed",
	})
	if err != nil {
		r.log.Warn("recovery log entry skipped", logx.Int64("run", run.ID), logx.Err(err))
	}
}

// persistLocked writes the run through to the store, best-effort.
// Called with r.mu held.
func (r *Registry) persistLocked(run *Run) {
	if r.store == nil {
		return
	}
	rec, err := runToRecord(run)
	if err != nil {
		r.log.Error("failed encoding run for persistence", logx.Int64("run", run.ID), logx.Err(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.UpsertRun(ctx, rec); err != nil {
		r.log.Error("failed persisting run", logx.Int64("run", run.ID), logx.Err(err))
	}
}

func runToRecord(run *Run) (storage.RunRecord, error) {
	var paramsJSON, tasksJSON []byte
	var err error
	if run.Params != nil {
		if paramsJSON, err = json.Marshal(run.Params); err != nil {
			return storage.RunRecord{}, err
		}
	}
	if tasksJSON, err = json.Marshal(run.Tasks); err != nil {
		return storage.RunRecord{}, err
	}
	return storage.RunRecord{
		ID:         run.ID,
		PipelineID: run.PipelineID,
		TriggerID:  run.TriggerID,
		Status:     string(run.Status),
		ParamsJSON: string(paramsJSON),
		StartTime:  run.StartTime,
		DurationMS: run.Duration.Milliseconds(),
		TasksJSON:  string(tasksJSON),
	}, nil
}

func recordToRun(rec storage.RunRecord) (*Run, error) {
	run := &Run{
		ID:         rec.ID,
		PipelineID: rec.PipelineID,
		TriggerID:  rec.TriggerID,
		Status:     RunStatus(rec.Status),
		StartTime:  rec.StartTime,
		Duration:   time.Duration(rec.DurationMS) * time.Millisecond,
	}
	if rec.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(rec.ParamsJSON), &run.Params); err != nil {
			return nil, err
		}
	}
	if rec.TasksJSON != "" {
		if err := json.Unmarshal([]byte(rec.TasksJSON), &run.Tasks); err != nil {
			return nil, err
		}
	}
	return run, nil
}
