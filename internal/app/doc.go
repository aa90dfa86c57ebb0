// Package app wires the orchestration core together and exposes its
// boundary operations: pipeline listing and schedule toggles, manual runs,
// cancellation, run history, log replay and live subscription, and task
// output retrieval. Transport is left to the embedding program.
package app
