package bus

import (
	"sync"
	"time"

	logx "conveyor/pkg/logx"
)

// StatusEvent describes one run-status transition.
type StatusEvent struct {
	RunID      int64     `json:"run_id"`
	PipelineID string    `json:"pipeline_id"`
	TriggerID  string    `json:"trigger_id,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// LogEntry is one line of a run's log. Seq is gap-free and strictly
// increasing per run; it is the replay cursor for late subscribers.
type LogEntry struct {
	RunID   int64     `json:"run_id"`
	Seq     int64     `json:"seq"`
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Task    string    `json:"task,omitempty"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

const defaultBuffer = 64

// Bus is the in-process event fanout. Safe for concurrent use.
//
// Channel closes and sends are both performed under the owning mutex, so a
// subscriber channel is never sent to after it is closed.
type Bus struct {
	log logx.Logger

	smu        sync.Mutex
	statusSubs map[uint64]chan StatusEvent
	nextSubID  uint64

	lmu       sync.Mutex
	runs      map[int64]*runLog
	nextLogID uint64
}

type runLog struct {
	entries []LogEntry
	subs    map[uint64]chan LogEntry
	closed  bool
}

func New(log logx.Logger) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{
		log:        log,
		statusSubs: map[uint64]chan StatusEvent{},
		runs:       map[int64]*runLog{},
	}
}

// ---- Run-status channel ----

// PublishStatus fans a transition out to all status subscribers.
// Non-blocking; a subscriber whose buffer is full is disconnected.
func (b *Bus) PublishStatus(e StatusEvent) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.smu.Lock()
	defer b.smu.Unlock()
	for id, ch := range b.statusSubs {
		select {
		case ch <- e:
		default:
			delete(b.statusSubs, id)
			close(ch)
			b.log.Warn("status subscriber fell behind, disconnected", logx.Uint64("sub", id))
		}
	}
}

// SubscribeStatus registers a status listener. The returned cancel func is
// idempotent. A closed channel means the bus disconnected the subscriber.
func (b *Bus) SubscribeStatus(buffer int) (<-chan StatusEvent, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan StatusEvent, buffer)

	b.smu.Lock()
	b.nextSubID++
	id := b.nextSubID
	b.statusSubs[id] = ch
	b.smu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.smu.Lock()
			if _, ok := b.statusSubs[id]; ok {
				delete(b.statusSubs, id)
				close(ch)
			}
			b.smu.Unlock()
		})
	}
	return ch, cancel
}

// ---- Per-run log channel ----

// OpenRun prepares the append log for a new run. Idempotent.
func (b *Bus) OpenRun(runID int64) {
	b.lmu.Lock()
	if _, ok := b.runs[runID]; !ok {
		b.runs[runID] = &runLog{subs: map[uint64]chan LogEntry{}}
	}
	b.lmu.Unlock()
}

// Append assigns the next sequence number for the run, stores the entry and
// delivers it to live subscribers in order. It returns the stored entry.
//
// Appending to an unknown or closed run log panics: sequence numbering is
// single-writer (the run's executor), and writes after CloseRun mean the
// executor lifecycle is broken.
func (b *Bus) Append(runID int64, level, task, message, detail string) LogEntry {
	b.lmu.Lock()
	defer b.lmu.Unlock()

	rl, ok := b.runs[runID]
	if !ok || rl.closed {
		panic("bus: append to unknown or closed run log")
	}

	e := LogEntry{
		RunID:   runID,
		Seq:     int64(len(rl.entries)) + 1,
		At:      time.Now(),
		Level:   level,
		Task:    task,
		Message: message,
		Detail:  detail,
	}
	rl.entries = append(rl.entries, e)

	for id, ch := range rl.subs {
		select {
		case ch <- e:
		default:
			delete(rl.subs, id)
			close(ch)
			b.log.Warn("log subscriber fell behind, disconnected",
				logx.Int64("run", runID), logx.Uint64("sub", id))
		}
	}
	return e
}

// SubscribeLogs returns the run's history so far plus a live channel for
// the tail. History and subscription are taken under one lock, so no entry
// is delivered twice or skipped across the seam.
//
// For a finished (closed) run the live channel is returned already closed.
// ok is false when the bus has no log for the run (e.g. a pre-restart run
// whose history lives only in storage).
func (b *Bus) SubscribeLogs(runID int64, buffer int) (history []LogEntry, live <-chan LogEntry, cancel func(), ok bool) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	b.lmu.Lock()
	defer b.lmu.Unlock()

	rl, exists := b.runs[runID]
	if !exists {
		return nil, nil, func() {}, false
	}

	history = append([]LogEntry(nil), rl.entries...)

	ch := make(chan LogEntry, buffer)
	if rl.closed {
		close(ch)
		return history, ch, func() {}, true
	}

	b.nextLogID++
	id := b.nextLogID
	rl.subs[id] = ch

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			b.lmu.Lock()
			if _, live := rl.subs[id]; live {
				delete(rl.subs, id)
				close(ch)
			}
			b.lmu.Unlock()
		})
	}
	return history, ch, cancel, true
}

// History returns the in-memory log of a run without subscribing.
func (b *Bus) History(runID int64) ([]LogEntry, bool) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		return nil, false
	}
	return append([]LogEntry(nil), rl.entries...), true
}

// CloseRun marks the run's log complete and closes all live subscriber
// channels. History stays readable until ReleaseRun.
func (b *Bus) CloseRun(runID int64) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	rl, ok := b.runs[runID]
	if !ok || rl.closed {
		return
	}
	rl.closed = true
	for id, ch := range rl.subs {
		delete(rl.subs, id)
		close(ch)
	}
}

// ReleaseRun drops a closed run's in-memory log. The durable copy in
// storage remains the historical source.
func (b *Bus) ReleaseRun(runID int64) {
	b.lmu.Lock()
	defer b.lmu.Unlock()
	if rl, ok := b.runs[runID]; ok && rl.closed {
		delete(b.runs, runID)
	}
}
