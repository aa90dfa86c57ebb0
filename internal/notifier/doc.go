// Package notifier turns watched run-status transitions into operator
// alerts.
//
// The service subscribes to the global status channel and forwards matching
// transitions to a Sink, deduplicated per pipeline+status within a window
// and rate limited overall. Delivery is best-effort: a failing sink is
// logged and the event dropped, never retried into a backlog.
package notifier
