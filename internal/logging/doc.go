// Package logging builds the slog loggers used by the daemon and its
// components, and centralizes the structured field vocabulary.
//
// Loggers are constructed from config (level, format, output paths) and write
// to stdout/stderr plus the daemon log file. Console and JSON formats are
// supported. Context helpers attach the work item id, stage, worker id, and
// correlation id so every record emitted during a claim/execute cycle is
// attributable to one item.
package logging
