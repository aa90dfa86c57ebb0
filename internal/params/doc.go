// Package params implements typed parameter schemas for pipelines and the
// three-tier resolution used when a run starts.
//
// # Resolution
//
// A run's parameters come from up to three tiers, highest priority first:
//
//  1. Manual parameters passed with the run request
//  2. The firing trigger's default parameters
//  3. The pipeline schema's field defaults
//
// Priority is applied per individual field: a field explicitly present at a
// higher tier always wins, including explicit zero values ("", 0, false). A
// field absent at a tier falls through to the next one.
//
// # Validation
//
// After merging, the result is validated field-by-field against the schema:
// type coercion, min/max bounds, enum membership and required-field presence.
// Violations are collected into a single *ValidationError with one entry per
// offending field, using dotted paths for nested group fields
// (e.g. "date_range.start").
//
// The resolver performs no I/O and is safe for concurrent use.
package params
