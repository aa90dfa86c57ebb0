// Package config loads the orchestrator's file configuration.
//
// JSON and YAML are both accepted; YAML is coerced to JSON so one strict
// decoder (unknown keys rejected) covers both. A Manager can additionally
// watch the file and republish validated changes to subscribers.
package config
