// Package substrate persists committed knowledge content as versioned
// entities and relationships between them. Entities are append-only: a
// content change inserts a new version row and flips the prior row's state
// to superseded, so history is never rewritten. All mutations arrive through
// governance-approved operations and run inside the caller's transaction.
package substrate
