package storage

// Package storage provides a minimal persistence layer used by the
// orchestration core.
//
// It currently supports:
//   - Durable upsert of pipeline runs (with their task run list)
//   - Append-only per-run log lines
//   - Schedule-enabled flags (to survive restarts)
