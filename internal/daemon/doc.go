// Package daemon coordinates the long-running loom process.
//
// It wires configuration, the queue store, the workflow manager, and the
// control-plane services into a single lifecycle with flock-based locking to
// prevent multiple instances. The daemon exposes the work and proposal
// services to IPC callers and owns startup and shutdown ordering.
//
// Keep orchestration logic here: stage semantics live with their handlers
// while the daemon focuses on lifecycle and high level coordination.
package daemon
