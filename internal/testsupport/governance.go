package testsupport

import (
	"testing"

	"loom/internal/config"
	"loom/internal/governance"
	"loom/internal/logging"
	"loom/internal/substrate"
)

// NewGovernance wires a proposal engine over fresh stores for tests.
func NewGovernance(t testing.TB, cfg *config.Config) (*governance.Engine, *substrate.Store) {
	t.Helper()

	entities := MustOpenSubstrate(t, cfg)
	store, err := governance.Open(cfg)
	if err != nil {
		t.Fatalf("governance.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	engine := governance.NewEngine(store, entities, cfg.Governance, logging.NewNop())
	return engine, entities
}
