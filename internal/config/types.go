package config

// Config is the orchestrator's file configuration. JSON or YAML on disk;
// unknown keys are rejected so typos fail loudly at load time.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
type Config struct {
	Logging   LoggingConfig             `json:"logging"`
	Scheduler SchedulerConfig           `json:"scheduler"`
	Storage   *StorageConfig            `json:"storage,omitempty"`
	Outputs   *OutputsConfig            `json:"outputs,omitempty"`
	Notifier  *NotifierConfig           `json:"notifier,omitempty"`
	Pipelines map[string]PipelineConfig `json:"pipelines,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls trigger firing.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Timezone is the default IANA zone for triggers that do not carry
	// their own. Empty means the process-local zone.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./conveyor.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// OutputsConfig controls where task outputs land.
type OutputsConfig struct {
	Dir string `json:"dir"`
}

// NotifierConfig controls run-status alerting. If the section is omitted
// the notifier stays off.
type NotifierConfig struct {
	Enabled     bool     `json:"enabled"`
	Statuses    []string `json:"statuses,omitempty"`
	RatePerMin  int      `json:"rate_per_min,omitempty"`
	DedupWindow string   `json:"dedup_window,omitempty"`
}

// PipelineConfig carries per-pipeline overrides applied at startup.
// Pipelines absent from the map keep their registered defaults.
type PipelineConfig struct {
	ScheduleEnabled *bool `json:"schedule_enabled,omitempty"`
}
