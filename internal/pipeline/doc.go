// Package pipeline defines statically registered pipelines: an ordered list
// of tasks, zero or more schedule-driven triggers, and a declared parameter
// schema.
//
// Definitions are registered once at process start and are immutable for the
// process lifetime, with one exception: the per-pipeline schedule-enabled
// flag, which is owned by the Registry and survives restarts through an
// injected state persister.
//
// What a task does internally is opaque to the orchestration core: it runs
// to completion, returns an error on failure, may emit log lines through the
// run-scoped logger, and may return an output value.
package pipeline
