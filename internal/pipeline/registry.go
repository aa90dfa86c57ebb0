package pipeline

import (
	"context"
	"fmt"
	"sync"

	logx "conveyor/pkg/logx"
)

// StatePersister stores the schedule-enabled flags across restarts.
// Implemented by the storage layer; may be nil (flags default to enabled).
type StatePersister interface {
	LoadScheduleState(ctx context.Context) (map[string]bool, error)
	SaveScheduleState(ctx context.Context, pipelineID string, enabled bool) error
}

// Registry owns the process-wide set of pipeline definitions and their
// schedule-enabled flags. Read-mostly; safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*Pipeline
	order   []string
	enabled map[string]bool

	log   logx.Logger
	state StatePersister

	// onToggle is invoked (outside the lock) whenever a schedule flag flips,
	// so the scheduler loop can re-derive next fire times immediately.
	onToggle func(pipelineID string, enabled bool)
}

func NewRegistry(log logx.Logger, state StatePersister) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		defs:    map[string]*Pipeline{},
		enabled: map[string]bool{},
		log:     log,
		state:   state,
	}
}

// OnScheduleToggle installs the toggle callback. Must be called before the
// scheduler starts; not safe to swap while running.
func (r *Registry) OnScheduleToggle(fn func(pipelineID string, enabled bool)) {
	r.onToggle = fn
}

// Register adds a pipeline definition. Definitions registered twice are
// rejected; registration happens only at process start.
func (r *Registry) Register(p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("nil pipeline")
	}
	if err := p.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[p.ID]; ok {
		return fmt.Errorf("pipeline %q already registered", p.ID)
	}
	r.defs[p.ID] = p
	r.order = append(r.order, p.ID)
	if _, ok := r.enabled[p.ID]; !ok {
		r.enabled[p.ID] = true
	}
	r.log.Info("pipeline registered",
		logx.String("pipeline", p.ID),
		logx.Int("tasks", len(p.Tasks)),
		logx.Int("triggers", len(p.Triggers)))
	return nil
}

// LoadState pulls persisted schedule-enabled flags. Call once after all
// Register calls, before the scheduler starts.
func (r *Registry) LoadState(ctx context.Context) error {
	if r.state == nil {
		return nil
	}
	flags, err := r.state.LoadScheduleState(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for id, en := range flags {
		if _, known := r.defs[id]; known {
			r.enabled[id] = en
		}
	}
	r.mu.Unlock()
	return nil
}

// Get returns a registered pipeline, or nil if unknown.
func (r *Registry) Get(id string) *Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[id]
}

// List returns all pipelines in registration order.
func (r *Registry) List() []*Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pipeline, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// ScheduleEnabled reports whether the pipeline's triggers may fire.
func (r *Registry) ScheduleEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled[id]
}

// SetScheduleEnabled flips the schedule flag, persists it, and notifies the
// scheduler so affected next-fire times are re-derived immediately.
func (r *Registry) SetScheduleEnabled(ctx context.Context, id string, enabled bool) (*Pipeline, error) {
	r.mu.Lock()
	p, ok := r.defs[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("unknown pipeline %q", id)
	}
	changed := r.enabled[id] != enabled
	r.enabled[id] = enabled
	r.mu.Unlock()

	if !changed {
		return p, nil
	}

	if r.state != nil {
		if err := r.state.SaveScheduleState(ctx, id, enabled); err != nil {
			r.log.Warn("failed persisting schedule state", logx.String("pipeline", id), logx.Err(err))
		}
	}
	r.log.Info("schedule toggled", logx.String("pipeline", id), logx.Bool("enabled", enabled))
	if r.onToggle != nil {
		r.onToggle(id, enabled)
	}
	return p, nil
}
