package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"conveyor/internal/bus"
	logx "conveyor/pkg/logx"
)

// Sink delivers one formatted alert. Implementations own transport-specific
// formatting and failure handling; Notify errors are logged, not retried.
type Sink interface {
	Notify(ctx context.Context, a Alert) error
}

// Alert is a high-signal message about a run reaching a watched status.
type Alert struct {
	RunID      int64     `json:"run_id"`
	PipelineID string    `json:"pipeline_id"`
	TriggerID  string    `json:"trigger_id,omitempty"`
	Status     string    `json:"status"`
	At         time.Time `json:"at"`
}

// Config controls alerting.
type Config struct {
	Enabled bool
	// Statuses to alert on; empty means failed runs only.
	Statuses []string
	// RatePerMin caps deliveries per minute.
	RatePerMin int
	// DedupWindow suppresses repeat alerts for the same pipeline+status.
	DedupWindow time.Duration
}

func (c *Config) applyDefaults() {
	if len(c.Statuses) == 0 {
		c.Statuses = []string{"failed"}
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 6
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 5 * time.Minute
	}
}

// Service watches the run-status channel and forwards watched transitions
// to the sink, deduplicated and rate limited.
type Service struct {
	log     logx.Logger
	cfg     Config
	sink    Sink
	events  *bus.Bus
	limiter *rate.Limiter

	watch map[string]bool

	dmu   sync.Mutex
	dedup map[string]time.Time

	cancel func()
	done   chan struct{}
}

func New(cfg Config, sink Sink, events *bus.Bus, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = LogSink{Log: log}
	}
	watch := map[string]bool{}
	for _, st := range cfg.Statuses {
		watch[st] = true
	}
	return &Service{
		log:     log,
		cfg:     cfg,
		sink:    sink,
		events:  events,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), cfg.RatePerMin),
		watch:   watch,
		dedup:   map[string]time.Time{},
	}
}

// Start subscribes to the status channel. No-op when disabled.
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	ch, cancel := s.events.SubscribeStatus(0)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					// Disconnected for falling behind; alerting is best-effort.
					s.log.Warn("status subscription dropped, alerts stopped")
					return
				}
				s.handle(ctx, e)
			}
		}
	}()
	s.log.Info("notifier started", logx.Any("statuses", s.cfg.Statuses))
}

// Stop unsubscribes and waits for the watcher to drain.
func (s *Service) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Service) handle(ctx context.Context, e bus.StatusEvent) {
	if !s.watch[e.Status] {
		return
	}
	key := e.PipelineID + "|" + e.Status
	now := time.Now()

	s.dmu.Lock()
	until, seen := s.dedup[key]
	if seen && now.Before(until) {
		s.dmu.Unlock()
		return
	}
	s.dedup[key] = now.Add(s.cfg.DedupWindow)
	s.dmu.Unlock()

	if !s.limiter.Allow() {
		s.log.Warn("alert dropped by rate limit",
			logx.String("pipeline", e.PipelineID), logx.Int64("run", e.RunID))
		return
	}

	a := Alert{
		RunID:      e.RunID,
		PipelineID: e.PipelineID,
		TriggerID:  e.TriggerID,
		Status:     e.Status,
		At:         e.At,
	}
	if err := s.sink.Notify(ctx, a); err != nil {
		s.log.Warn("alert delivery failed",
			logx.String("pipeline", e.PipelineID), logx.Int64("run", e.RunID), logx.Err(err))
	}
}

// LogSink writes alerts to the process log. The default sink.
type LogSink struct {
	Log logx.Logger
}

func (l LogSink) Notify(_ context.Context, a Alert) error {
	l.Log.Warn(fmt.Sprintf("run %d of pipeline %s %s", a.RunID, a.PipelineID, a.Status),
		logx.String("pipeline", a.PipelineID),
		logx.String("trigger", a.TriggerID),
		logx.Time("at", a.At))
	return nil
}
