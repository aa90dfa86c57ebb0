package config

import (
	"fmt"
	"strings"
	"time"
)

var logLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "warning": true, "error": true,
}

var runStatuses = map[string]bool{
	"pending": true, "running": true, "completed": true,
	"failed": true, "cancelled": true,
}

// Validate checks cross-field constraints the decoder cannot. Used both at
// startup and as the Watch validator before a reload is committed.
func (c *Config) Validate() error {
	if !logLevels[strings.ToLower(strings.TrimSpace(c.Logging.Level))] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path required when file logging is enabled")
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path required for sqlite")
			}
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if n := c.Notifier; n != nil {
		for _, st := range n.Statuses {
			if !runStatuses[st] {
				return fmt.Errorf("notifier.statuses: unknown status %q", st)
			}
		}
		if _, err := ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
			return err
		}
		if n.RatePerMin < 0 {
			return fmt.Errorf("notifier.rate_per_min must be >= 0")
		}
	}
	return nil
}
