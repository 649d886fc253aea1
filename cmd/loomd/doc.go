// Package main hosts the loomd entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: work submission and inspection, queue maintenance,
// proposal review, log tailing, and configuration scaffolding. The hidden
// daemon subcommand runs the daemon itself in the foreground; start launches
// it detached. Configuration resolution and socket discovery are centralized
// so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
