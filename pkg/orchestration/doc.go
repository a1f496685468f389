// Package orchestration provides a durable, explicit-state orchestration
// engine.
//
// Instead of replaying orchestrator code against positional history, the
// engine persists an explicit record per instance (status, next step index
// and the accumulated step results) after every activity, and resumes from
// that record after a restart. An orchestrator body is a pure function of
// its input and the recorded history: CallActivity returns the recorded
// result for steps already in history (at-most-once observable execution)
// and only runs the registered activity for new steps. All I/O lives inside
// activities.
//
// Instances run independently on a bounded worker pool; within one instance
// the control logic is a single logical thread of deterministic steps.
// Cancellation is checked at every activity boundary.
package orchestration
