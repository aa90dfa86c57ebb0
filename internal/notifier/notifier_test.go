package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"conveyor/internal/bus"
	logx "conveyor/pkg/logx"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *captureSink) Notify(_ context.Context, a Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) waitFor(t *testing.T, n int) []Alert {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.alerts)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

func TestFailedRunsAlerted(t *testing.T) {
	t.Parallel()
	b := bus.New(logx.Nop())
	sink := &captureSink{}
	s := New(Config{Enabled: true, RatePerMin: 600}, sink, b, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	b.PublishStatus(bus.StatusEvent{RunID: 1, PipelineID: "feed", Status: "running"})
	b.PublishStatus(bus.StatusEvent{RunID: 1, PipelineID: "feed", Status: "failed"})
	b.PublishStatus(bus.StatusEvent{RunID: 2, PipelineID: "other", Status: "completed"})

	alerts := sink.waitFor(t, 1)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].PipelineID != "feed" || alerts[0].Status != "failed" || alerts[0].RunID != 1 {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	t.Parallel()
	b := bus.New(logx.Nop())
	sink := &captureSink{}
	s := New(Config{Enabled: true, RatePerMin: 600, DedupWindow: time.Hour}, sink, b, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop(context.Background())

	for runID := int64(1); runID <= 3; runID++ {
		b.PublishStatus(bus.StatusEvent{RunID: runID, PipelineID: "feed", Status: "failed"})
	}
	// Another pipeline is a distinct dedup key.
	b.PublishStatus(bus.StatusEvent{RunID: 4, PipelineID: "other", Status: "failed"})

	alerts := sink.waitFor(t, 2)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts after dedup, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].PipelineID != "feed" || alerts[1].PipelineID != "other" {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}
}

func TestDisabledNotifierSubscribesNothing(t *testing.T) {
	t.Parallel()
	b := bus.New(logx.Nop())
	sink := &captureSink{}
	s := New(Config{Enabled: false}, sink, b, logx.Nop())

	s.Start(context.Background())
	b.PublishStatus(bus.StatusEvent{RunID: 1, PipelineID: "feed", Status: "failed"})
	time.Sleep(50 * time.Millisecond)

	if got := sink.waitFor(t, 0); len(got) != 0 {
		t.Fatalf("disabled notifier delivered alerts: %+v", got)
	}
	s.Stop(context.Background())
}
