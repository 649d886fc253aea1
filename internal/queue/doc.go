// Package queue persists work items in SQLite and owns their lifecycle:
// enqueue, atomic claiming, completion, failure, and stale-claim recovery.
//
// Claiming is the only cross-worker coordination point. Each candidate row is
// taken with a single conditional UPDATE guarded by the item's current state,
// so no two concurrent callers ever receive the same item. Items whose owner
// has stopped heartbeating past the stale threshold become claimable again;
// handlers therefore run at-least-once and must be idempotent.
//
// Items are never deleted by the lifecycle; terminal rows remain for audit.
// Treat this package as the single source of truth for queue semantics: new
// statuses or columns belong in schema.sql with a schemaVersion bump.
package queue
