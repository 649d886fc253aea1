// Package workflow runs the worker pool that drains the work queue. Each
// worker polls the atomic claim call on an interval, dispatches claimed
// items to the handler registered for their stage, heartbeats while
// processing, and routes handler errors through the retry policy. Stage
// completions hand off to the cascade manager.
package workflow
