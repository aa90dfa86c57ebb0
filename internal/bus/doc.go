// Package bus carries the orchestrator's live event traffic: a global
// run-status stream and one ordered log stream per run.
//
// # Status channel
//
// Every run-status transition is published process-wide in the order the
// transitions occurred. There is no replay; dashboards refetch a snapshot
// from the registry on (re)connect.
//
// # Per-run log channel
//
// Each run has an append-only log with gap-free sequence numbers starting
// at 1. Subscribing returns the history so far together with a live channel
// for the tail; the two are handed over atomically with respect to sequence
// numbers, so a client connecting mid-run sees every entry exactly once.
//
// # Backpressure
//
// Publication never blocks the executor. Every subscriber has a bounded
// buffer; a subscriber that falls too far behind is disconnected (its
// channel is closed) and is expected to resubscribe and replay.
package bus
