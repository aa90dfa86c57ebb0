// Package registry is the authoritative store of pipeline run records.
//
// It owns the Run and TaskRun lifecycle and enforces the two core
// invariants of the orchestrator:
//
//   - At most one run in {pending, running} per pipeline at any time.
//     CreateRun checks this atomically and returns ErrConflict instead of
//     queueing; callers must treat that as "skip", never "retry".
//   - Runs only move along the legal transition graph
//     (pending→running→{completed, failed, cancelled}). Any other
//     transition is a core bug and panics rather than silently continuing.
//
// Run records are never deleted; terminal runs stay as history. When a
// store is configured every mutation is written through, and Load()
// restores history at startup. Runs found pending/running at startup were
// interrupted by a restart and are marked failed during Load.
//
// Task runs are mutated only by the executor driving that run
// (single-writer discipline); lookups are safe from any number of readers.
package registry
