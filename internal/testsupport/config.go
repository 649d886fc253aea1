package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// WithMergeThreshold overrides the governance merge threshold.
func WithMergeThreshold(threshold float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Governance.MergeThreshold = threshold
	}
}

// WithAutoMerge enables automatic merging of verbatim duplicate proposals.
func WithAutoMerge() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Governance.AutoMerge = true
	}
}

// WithSequence overrides the declared pipeline sequence and drops the default
// cascade rules, which reference the default stages.
func WithSequence(stages ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Sequence = stages
		cfg.Pipeline.Cascades = nil
	}
}
