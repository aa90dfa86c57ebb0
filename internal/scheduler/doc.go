// Package scheduler fires pipeline triggers on their cron schedules.
//
// A single goroutine owns a min-heap of (next fire, trigger) pairs and
// sleeps until the earliest one. Fires hand off through a FireFunc and
// never wait for the run; an active-run conflict is logged as a skip, not
// queued for catch-up. Flipping a pipeline's schedule flag re-derives its
// triggers from the current instant.
package scheduler
