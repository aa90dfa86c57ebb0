// Package executor drives pipeline runs.
//
// Submit resolves the run's parameters, claims the pipeline's active-run
// slot in the registry and starts one goroutine that owns the run from
// pending to its terminal state. Tasks execute strictly in pipeline order
// with fail-fast semantics: the first task error (or panic) marks the task
// and the run failed and the remaining tasks are never started.
//
// Cancellation is cooperative and run-scoped. Cancel flips a per-run token
// and cancels the task context; the token is honored at task boundaries,
// while an in-flight task is expected to watch its context or run to
// natural completion.
//
// Every log line a task emits goes synchronously to the run's event-bus
// log (assigning the next sequence number) and, when storage is
// configured, to the durable log. The executor never reorders or buffers
// log emission; the replay contract depends on total order.
package executor
