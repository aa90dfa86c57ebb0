package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the default engine)
//
// If Driver is empty or "none", storage is disabled and the orchestrator
// runs purely in memory (no run history across restarts).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is the durable row for one pipeline run.
// TasksJSON and ParamsJSON are opaque JSON blobs owned by the registry;
// keep them schema-stable.
type RunRecord struct {
	ID         int64
	PipelineID string
	TriggerID  string // empty for manual runs
	Status     string
	ParamsJSON string
	StartTime  time.Time
	DurationMS int64
	TasksJSON  string
}

// RunFilter narrows ListRuns. Zero values mean "any".
type RunFilter struct {
	PipelineID string
	TriggerID  string
	Limit      int
}

// LogRecord is one durable run log line.
type LogRecord struct {
	RunID   int64
	Seq     int64
	At      time.Time
	Level   string
	Task    string // empty for run-level messages
	Message string
	Detail  string // failure detail: error summary + stack, empty otherwise
}
