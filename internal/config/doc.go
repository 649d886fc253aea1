// Package config loads, normalizes, and validates loom's TOML configuration.
//
// Configuration resolves from an explicit path, then ~/.config/loom/
// config.toml, then ./loom.toml, falling back to built-in defaults when no
// file exists. Path fields are tilde-expanded and made absolute during
// normalization; Validate rejects inconsistent timing values, out-of-range
// thresholds, and cascade rules that reference stages missing from the
// declared pipeline sequence.
package config
