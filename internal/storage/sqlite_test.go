package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "conveyor/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "conveyor.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store", driver)
		}
	}
	if _, err := Open(Config{Driver: "oracle"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRunRoundtrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Millisecond)
	rec := RunRecord{
		ID:         1,
		PipelineID: "feed",
		TriggerID:  "nightly",
		Status:     "running",
		ParamsJSON: `{"limit":3}`,
		StartTime:  start,
		TasksJSON:  `[]`,
	}
	if err := st.UpsertRun(ctx, rec); err != nil {
		t.Fatalf("UpsertRun: %v", err)
	}

	// Terminal update goes through the same upsert.
	rec.Status = "completed"
	rec.DurationMS = 1500
	rec.TasksJSON = `[{"taskId":"fetch","status":"completed"}]`
	if err := st.UpsertRun(ctx, rec); err != nil {
		t.Fatalf("UpsertRun update: %v", err)
	}

	recs, err := st.ListRuns(ctx, RunFilter{PipelineID: "feed"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("rows = %d, want 1 (update must not insert)", len(recs))
	}
	got := recs[0]
	if got.Status != "completed" || got.DurationMS != 1500 {
		t.Fatalf("unexpected row: %+v", got)
	}
	if !got.StartTime.Equal(start) {
		t.Fatalf("start time %v, want %v", got.StartTime, start)
	}

	max, err := st.MaxRunID(ctx)
	if err != nil || max != 1 {
		t.Fatalf("MaxRunID = %d, %v", max, err)
	}
}

func TestListRunsFilter(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	rows := []RunRecord{
		{ID: 1, PipelineID: "feed", TriggerID: "nightly", Status: "completed", ParamsJSON: "{}", TasksJSON: "[]", StartTime: time.Now()},
		{ID: 2, PipelineID: "feed", Status: "failed", ParamsJSON: "{}", TasksJSON: "[]", StartTime: time.Now()},
		{ID: 3, PipelineID: "other", Status: "completed", ParamsJSON: "{}", TasksJSON: "[]", StartTime: time.Now()},
	}
	for _, r := range rows {
		if err := st.UpsertRun(ctx, r); err != nil {
			t.Fatalf("UpsertRun %d: %v", r.ID, err)
		}
	}

	got, err := st.ListRuns(ctx, RunFilter{PipelineID: "feed"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("feed runs = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].ID != 2 || got[1].ID != 1 {
		t.Fatalf("order = %d,%d", got[0].ID, got[1].ID)
	}

	got, err = st.ListRuns(ctx, RunFilter{PipelineID: "feed", TriggerID: "nightly"})
	if err != nil || len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("trigger filter: %+v, %v", got, err)
	}

	got, err = st.ListRuns(ctx, RunFilter{Limit: 2})
	if err != nil || len(got) != 2 {
		t.Fatalf("limit filter: %+v, %v", got, err)
	}
}

func TestLogAppendAndList(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Now().UTC().Truncate(time.Millisecond)
	for seq := int64(1); seq <= 3; seq++ {
		err := st.AppendLog(ctx, LogRecord{
			RunID: 7, Seq: seq, At: at, Level: "INFO",
			Task: "fetch", Message: "line", Detail: "",
		})
		if err != nil {
			t.Fatalf("AppendLog %d: %v", seq, err)
		}
	}

	logs, err := st.ListLogs(ctx, 7)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("logs = %d, want 3", len(logs))
	}
	for i, l := range logs {
		if l.Seq != int64(i)+1 {
			t.Fatalf("log %d has seq %d", i, l.Seq)
		}
		if !l.At.Equal(at) {
			t.Fatalf("log %d at %v, want %v", i, l.At, at)
		}
	}

	// Duplicate (run_id, seq) would mean the bus handed out the same
	// sequence twice; the primary key must refuse it.
	err = st.AppendLog(ctx, LogRecord{RunID: 7, Seq: 2, At: at, Level: "INFO", Message: "dup"})
	if err == nil {
		t.Fatal("expected error for duplicate seq")
	}

	seq, err := st.MaxLogSeq(ctx, 7)
	if err != nil || seq != 3 {
		t.Fatalf("MaxLogSeq(7) = %d, %v", seq, err)
	}
	seq, err = st.MaxLogSeq(ctx, 99)
	if err != nil || seq != 0 {
		t.Fatalf("MaxLogSeq(99) = %d, %v", seq, err)
	}
}

func TestScheduleState(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	flags, err := st.LoadScheduleState(ctx)
	if err != nil {
		t.Fatalf("LoadScheduleState: %v", err)
	}
	if len(flags) != 0 {
		t.Fatalf("fresh store has flags: %v", flags)
	}

	if err := st.SaveScheduleState(ctx, "feed", false); err != nil {
		t.Fatalf("SaveScheduleState: %v", err)
	}
	if err := st.SaveScheduleState(ctx, "feed", true); err != nil {
		t.Fatalf("SaveScheduleState update: %v", err)
	}
	if err := st.SaveScheduleState(ctx, "other", false); err != nil {
		t.Fatalf("SaveScheduleState other: %v", err)
	}

	flags, err = st.LoadScheduleState(ctx)
	if err != nil {
		t.Fatalf("LoadScheduleState: %v", err)
	}
	if len(flags) != 2 || !flags["feed"] || flags["other"] {
		t.Fatalf("flags = %v", flags)
	}
}
