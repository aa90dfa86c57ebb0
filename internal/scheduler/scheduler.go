package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"conveyor/internal/pipeline"
	"conveyor/internal/registry"
	logx "conveyor/pkg/logx"
)

// FireFunc starts a trigger-fired run. It must hand the run off without
// waiting for it to finish. registry.ErrConflict means the pipeline still
// has an active run; the scheduler skips the fire and does not queue
// catch-up runs.
type FireFunc func(pipelineID, triggerID string) error

type triggerKey struct {
	pipelineID string
	triggerID  string
}

type fireEntry struct {
	at  time.Time
	key triggerKey
}

// fireHeap is a min-heap on fire time. Entries may go stale when a schedule
// flag flips; staleness is detected lazily against Scheduler.next.
type fireHeap []fireEntry

func (h fireHeap) Len() int           { return len(h) }
func (h fireHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h fireHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *fireHeap) Push(x any)        { *h = append(*h, x.(fireEntry)) }
func (h *fireHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// idleWait bounds the sleep when no trigger is armed.
const idleWait = time.Hour

// Scheduler drives all cron triggers from a single goroutine.
type Scheduler struct {
	log   logx.Logger
	reg   *pipeline.Registry
	clock *Clock
	fire  FireFunc

	mu     sync.Mutex
	heap   fireHeap
	next   map[triggerKey]time.Time
	scheds map[triggerKey]cron.Schedule

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func New(log logx.Logger, reg *pipeline.Registry, clock *Clock, fire FireFunc) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		log:    log,
		reg:    reg,
		clock:  clock,
		fire:   fire,
		next:   map[triggerKey]time.Time{},
		scheds: map[triggerKey]cron.Schedule{},
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start arms every trigger of every schedule-enabled pipeline and begins
// the loop. Triggers with unparseable schedules are logged and left unarmed.
func (s *Scheduler) Start(ctx context.Context) {
	_ = ctx

	now := time.Now()
	s.mu.Lock()
	for _, p := range s.reg.List() {
		if s.reg.ScheduleEnabled(p.ID) {
			s.armPipelineLocked(p, now)
		}
	}
	armed := len(s.next)
	s.mu.Unlock()

	go s.loop()
	s.log.Info("scheduler started", logx.Int("triggers", armed))
}

// Stop halts the loop. In-flight runs are unaffected.
func (s *Scheduler) Stop(ctx context.Context) {
	close(s.stop)
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Recompute re-derives next-fire times for one pipeline after its schedule
// flag flipped. Disabled pipelines lose all armed triggers; enabled ones are
// re-armed from the current instant, never from stale pre-disable values.
// Intended as the pipeline registry's toggle callback.
func (s *Scheduler) Recompute(pipelineID string, enabled bool) {
	s.mu.Lock()
	for k := range s.next {
		if k.pipelineID == pipelineID {
			delete(s.next, k)
			delete(s.scheds, k)
		}
	}
	if enabled {
		if p := s.reg.Get(pipelineID); p != nil {
			s.armPipelineLocked(p, time.Now())
		}
	}
	s.mu.Unlock()
	s.rewake()
}

// NextFire returns a trigger's next fire instant. ok is false when the
// trigger is unarmed: pipeline schedule disabled, trigger paused, or
// unknown.
func (s *Scheduler) NextFire(pipelineID, triggerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.next[triggerKey{pipelineID, triggerID}]
	return at, ok
}

func (s *Scheduler) armPipelineLocked(p *pipeline.Pipeline, from time.Time) {
	for _, tr := range p.Triggers {
		if tr.Paused {
			continue
		}
		sched, err := s.clock.Schedule(tr.Schedule, tr.Timezone)
		if err != nil {
			s.log.Error("trigger not armed",
				logx.String("pipeline", p.ID), logx.String("trigger", tr.ID), logx.Err(err))
			continue
		}
		k := triggerKey{p.ID, tr.ID}
		at := sched.Next(from)
		s.scheds[k] = sched
		s.next[k] = at
		heap.Push(&s.heap, fireEntry{at: at, key: k})
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(idleWait)
	defer timer.Stop()

	for {
		d := s.untilNext()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
			s.fireDue()
		}
	}
}

// untilNext discards stale heap tops and returns the sleep until the
// earliest armed trigger.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.heap) > 0 {
		top := s.heap[0]
		if want, ok := s.next[top.key]; !ok || !want.Equal(top.at) {
			heap.Pop(&s.heap)
			continue
		}
		d := time.Until(top.at)
		if d < 0 {
			d = 0
		}
		return d
	}
	return idleWait
}

func (s *Scheduler) fireDue() {
	now := time.Now()
	var due []triggerKey

	s.mu.Lock()
	for len(s.heap) > 0 {
		top := s.heap[0]
		want, ok := s.next[top.key]
		if !ok || !want.Equal(top.at) {
			heap.Pop(&s.heap)
			continue
		}
		if top.at.After(now) {
			break
		}
		heap.Pop(&s.heap)

		// The flag may have flipped between arming and firing.
		if !s.reg.ScheduleEnabled(top.key.pipelineID) {
			delete(s.next, top.key)
			delete(s.scheds, top.key)
			continue
		}
		due = append(due, top.key)

		at := s.scheds[top.key].Next(now)
		s.next[top.key] = at
		heap.Push(&s.heap, fireEntry{at: at, key: top.key})
	}
	s.mu.Unlock()

	for _, k := range due {
		err := s.fire(k.pipelineID, k.triggerID)
		switch {
		case err == nil:
			s.log.Debug("trigger fired",
				logx.String("pipeline", k.pipelineID), logx.String("trigger", k.triggerID))
		case errors.Is(err, registry.ErrConflict):
			s.log.Warn("skipped: previous run still active",
				logx.String("pipeline", k.pipelineID), logx.String("trigger", k.triggerID))
		default:
			s.log.Error("trigger fire failed",
				logx.String("pipeline", k.pipelineID), logx.String("trigger", k.triggerID), logx.Err(err))
		}
	}
}

func (s *Scheduler) rewake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
