// Package services provides the shared error taxonomy and context annotation
// helpers used across loom components.
//
// Errors are tagged with sentinel markers (validation, conflict, not found,
// access denied, timeout, transient) via Wrap so callers can classify
// failures with errors.Is without string matching. The workflow manager uses
// IsRetryable to decide between requeueing a work item and failing it
// terminally; AccessDenied is never retried.
//
// Context helpers carry the work item id, stage name, worker id, and request
// correlation id through blocking store and handler calls so structured logs
// stay attributable.
package services
