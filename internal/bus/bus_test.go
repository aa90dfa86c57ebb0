package bus

import (
	"testing"

	logx "conveyor/pkg/logx"
)

func TestLogSequenceGapFree(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	b.OpenRun(1)

	for i := 0; i < 50; i++ {
		b.Append(1, "INFO", "fetch", "line", "")
	}

	history, ok := b.History(1)
	if !ok {
		t.Fatal("no history for run 1")
	}
	if len(history) != 50 {
		t.Fatalf("history length = %d, want 50", len(history))
	}
	for i, e := range history {
		if e.Seq != int64(i)+1 {
			t.Fatalf("seq at index %d = %d, want %d", i, e.Seq, i+1)
		}
	}
}

func TestSubscribeLogsReplayThenTail(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	b.OpenRun(7)

	b.Append(7, "INFO", "", "one", "")
	b.Append(7, "INFO", "", "two", "")

	history, live, cancel, ok := b.SubscribeLogs(7, 8)
	if !ok {
		t.Fatal("SubscribeLogs: run unknown")
	}
	defer cancel()
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}

	b.Append(7, "WARNING", "fetch", "three", "")
	b.CloseRun(7)

	var tail []LogEntry
	for e := range live {
		tail = append(tail, e)
	}
	if len(tail) != 1 || tail[0].Seq != 3 || tail[0].Message != "three" {
		t.Fatalf("unexpected tail: %+v", tail)
	}

	// No entry duplicated or skipped across the history/live seam.
	last := int64(0)
	for _, e := range append(history, tail...) {
		if e.Seq != last+1 {
			t.Fatalf("gap or duplicate at seq %d (prev %d)", e.Seq, last)
		}
		last = e.Seq
	}
}

func TestSubscribeLogsClosedRun(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	b.OpenRun(3)
	b.Append(3, "INFO", "", "done", "")
	b.CloseRun(3)

	history, live, _, ok := b.SubscribeLogs(3, 4)
	if !ok || len(history) != 1 {
		t.Fatalf("history after close: ok=%v len=%d", ok, len(history))
	}
	if _, open := <-live; open {
		t.Fatal("live channel should be closed for a finished run")
	}

	b.ReleaseRun(3)
	if _, ok := b.History(3); ok {
		t.Fatal("history still present after release")
	}

	if _, _, _, ok := b.SubscribeLogs(99, 4); ok {
		t.Fatal("expected ok=false for unknown run")
	}
}

func TestSlowLogSubscriberDisconnected(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())
	b.OpenRun(5)

	_, live, cancel, _ := b.SubscribeLogs(5, 2)
	defer cancel()

	// Fill the buffer and overflow it; the bus must not block.
	for i := 0; i < 5; i++ {
		b.Append(5, "INFO", "", "x", "")
	}

	var got []LogEntry
	for e := range live {
		got = append(got, e)
	}
	// Buffered entries survive, the channel is closed after overflow.
	if len(got) != 2 {
		t.Fatalf("got %d entries, want the 2 buffered ones", len(got))
	}

	// The run log itself is unaffected.
	history, _ := b.History(5)
	if len(history) != 5 {
		t.Fatalf("history = %d, want 5", len(history))
	}
}

func TestStatusFanout(t *testing.T) {
	t.Parallel()
	b := New(logx.Nop())

	ch1, cancel1 := b.SubscribeStatus(8)
	ch2, cancel2 := b.SubscribeStatus(8)
	defer cancel1()

	b.PublishStatus(StatusEvent{RunID: 1, PipelineID: "feed", Status: "pending"})
	b.PublishStatus(StatusEvent{RunID: 1, PipelineID: "feed", Status: "running"})

	for _, ch := range []<-chan StatusEvent{ch1, ch2} {
		e := <-ch
		if e.Status != "pending" {
			t.Fatalf("first event = %s, want pending", e.Status)
		}
		e = <-ch
		if e.Status != "running" {
			t.Fatalf("second event = %s, want running", e.Status)
		}
	}

	// Cancel is idempotent and stops delivery.
	cancel2()
	cancel2()
	b.PublishStatus(StatusEvent{RunID: 1, Status: "completed"})
	if e, open := <-ch2; open {
		t.Fatalf("cancelled subscriber still receives: %+v", e)
	}
}
