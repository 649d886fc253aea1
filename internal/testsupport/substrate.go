package testsupport

import (
	"context"
	"testing"

	"loom/internal/config"
	"loom/internal/substrate"
)

// MustOpenSubstrate opens a substrate.Store for tests and registers cleanup.
func MustOpenSubstrate(t testing.TB, cfg *config.Config) *substrate.Store {
	t.Helper()

	store, err := substrate.Open(cfg)
	if err != nil {
		t.Fatalf("substrate.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// CreateEntity inserts an accepted entity with test defaults.
func CreateEntity(t testing.TB, store *substrate.Store, content string) *substrate.Entity {
	t.Helper()

	entity, err := store.CreateEntity(context.Background(), store.DB(), substrate.NewEntity{
		TenantID:    "tenant-a",
		ContainerID: "container-1",
		Content:     content,
	})
	if err != nil {
		t.Fatalf("store.CreateEntity: %v", err)
	}
	return entity
}
