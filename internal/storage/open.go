package storage

import (
	"context"
	"errors"
	"strings"

	logx "conveyor/pkg/logx"
)

// Store is the minimal persistence API required by the orchestration core:
// durable upsert of runs, durable append of run log lines, query by
// id/pipeline/trigger, and the per-pipeline schedule-enabled flags.
type Store interface {
	UpsertRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, f RunFilter) ([]RunRecord, error)
	MaxRunID(ctx context.Context) (int64, error)

	AppendLog(ctx context.Context, l LogRecord) error
	ListLogs(ctx context.Context, runID int64) ([]LogRecord, error)
	MaxLogSeq(ctx context.Context, runID int64) (int64, error)

	LoadScheduleState(ctx context.Context) (map[string]bool, error)
	SaveScheduleState(ctx context.Context, pipelineID string, enabled bool) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
