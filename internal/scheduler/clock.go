package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Clock turns trigger schedule expressions into next-fire instants.
//
// Accepted forms are what robfig/cron parses: 5-field crontab, 6-field with
// a leading seconds column, and descriptors like "@hourly" or "@every 30m".
// A trigger timezone (IANA name) applies to field-based specs and
// descriptors alike; "@every" intervals are timezone-independent.
type Clock struct {
	parser cron.Parser
	tz     string
}

// NewClock builds a clock with a default timezone for triggers that do not
// carry their own. Empty means the process-local zone.
func NewClock(defaultTZ string) (*Clock, error) {
	tz := strings.TrimSpace(defaultTZ)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid default timezone %q: %w", tz, err)
		}
	}
	return &Clock{
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		tz:     tz,
	}, nil
}

// Schedule parses one trigger schedule. triggerTZ overrides the clock's
// default; an explicit CRON_TZ=/TZ= prefix in the spec wins over both.
func (c *Clock) Schedule(spec, triggerTZ string) (cron.Schedule, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}
	tz := strings.TrimSpace(triggerTZ)
	if tz == "" {
		tz = c.tz
	}
	if tz != "" && !strings.HasPrefix(s, "TZ=") && !strings.HasPrefix(s, "CRON_TZ=") {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		s = "CRON_TZ=" + tz + " " + s
	}
	sched, err := c.parser.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Next computes the first fire instant strictly after from.
func (c *Clock) Next(spec, triggerTZ string, from time.Time) (time.Time, error) {
	sched, err := c.Schedule(spec, triggerTZ)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
