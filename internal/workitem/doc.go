// Package workitem defines the work item data model shared by the queue,
// workflow, cascade, and status packages: lifecycle statuses, the typed
// work-type registry, payload codecs, and the stage result envelope.
//
// Work types are registered once at startup against the declared pipeline
// sequence; unknown tags are rejected at registration time rather than when a
// payload reaches a handler. Payloads are validated at the queue boundary and
// decoded to their concrete type before stage code sees them.
package workitem
