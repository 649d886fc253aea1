package testsupport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"loom/internal/config"
	"loom/internal/queue"
	"loom/internal/workitem"
)

// NewRegistry builds a registry for the config's pipeline sequence.
func NewRegistry(t testing.TB, cfg *config.Config) *workitem.Registry {
	t.Helper()

	registry, err := workitem.NewRegistry(cfg.Pipeline.Sequence)
	if err != nil {
		t.Fatalf("workitem.NewRegistry: %v", err)
	}
	return registry
}

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, registry *workitem.Registry) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, registry)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueItem inserts a pending work item with sane defaults for tests.
func EnqueueItem(t testing.TB, store *queue.Store, workType workitem.Type, payload string) *workitem.Item {
	t.Helper()

	if payload == "" {
		payload = `{"text":"test input"}`
	}
	item, err := store.Enqueue(context.Background(), queue.EnqueueRequest{
		Type:        workType,
		Payload:     json.RawMessage(payload),
		ContainerID: "container-1",
		TenantID:    "tenant-a",
	})
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return item
}

// ClaimOne claims a single item for the given worker and fails the test when
// nothing is claimable.
func ClaimOne(t testing.TB, store *queue.Store, workerID string) *workitem.Item {
	t.Helper()

	items, err := store.Claim(context.Background(), workerID, 1, time.Hour)
	if err != nil {
		t.Fatalf("store.Claim: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one claimed item, got %d", len(items))
	}
	return items[0]
}
