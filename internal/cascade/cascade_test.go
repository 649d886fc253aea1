package cascade_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"loom/internal/cascade"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/testsupport"
	"loom/internal/workitem"
)

func newManager(t *testing.T) (*cascade.Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	registry := testsupport.NewRegistry(t, cfg)
	store := testsupport.MustOpenStore(t, cfg, registry)
	manager, err := cascade.NewManager(store, registry, cfg.Pipeline.Cascades, logging.NewNop())
	if err != nil {
		t.Fatalf("cascade.NewManager: %v", err)
	}
	return manager, store
}

func TestRulesRejectUnknownStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	registry := testsupport.NewRegistry(t, cfg)
	store := testsupport.MustOpenStore(t, cfg, registry)

	_, err := cascade.NewManager(store, registry, []config.CascadeRule{
		{Source: "transcode", Target: "extract", WhenField: "entities_created"},
	}, logging.NewNop())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteFiresCascade(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", `{"text":"Revenue grew 10%"}`)
	claimed := testsupport.ClaimOne(t, store, "worker-1")

	if err := manager.Complete(ctx, claimed, json.RawMessage(`{"entities_created":1}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	source, err := store.Get(ctx, "tenant-a", claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if source.Status != workitem.StatusCompleted {
		t.Fatalf("source status = %s", source.Status)
	}

	children, err := store.Children(ctx, claimed.ID, "extract")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1", len(children))
	}
	child := children[0]
	if child.ParentWorkID == nil || *child.ParentWorkID != claimed.ID {
		t.Fatalf("child parent = %v", child.ParentWorkID)
	}
	if child.TenantID != source.TenantID || child.ContainerID != source.ContainerID {
		t.Fatal("child lost its parent's scope")
	}

	var payload struct {
		CascadeSource workitem.CascadeSource `json:"cascade_source"`
	}
	if err := json.Unmarshal(child.Payload, &payload); err != nil {
		t.Fatalf("decode child payload: %v", err)
	}
	if payload.CascadeSource.WorkID != claimed.ID || payload.CascadeSource.Type != "capture" {
		t.Fatalf("unexpected cascade source: %+v", payload.CascadeSource)
	}
	if payload.CascadeSource.Result.EntitiesCreated() != 1 {
		t.Fatalf("cascade source result = %+v", payload.CascadeSource.Result)
	}
}

func TestCompletePredicateNotMet(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")

	if err := manager.Complete(ctx, claimed, json.RawMessage(`{"entities_created":0}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	source, err := store.Get(ctx, "tenant-a", claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if source.Status != workitem.StatusCompleted {
		t.Fatalf("source status = %s", source.Status)
	}
	children, err := store.Children(ctx, claimed.ID, "")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("unexpected children: %+v", children)
	}
}

func TestTerminalStageCompletes(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "integrate", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")

	if err := manager.Complete(ctx, claimed, json.RawMessage(`{"entities_created":3}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	source, err := store.Get(ctx, "tenant-a", claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if source.Status != workitem.StatusCompleted {
		t.Fatalf("source status = %s", source.Status)
	}
	children, err := store.Children(ctx, claimed.ID, "")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 0 {
		t.Fatal("terminal stage must not cascade")
	}
}

func TestRetriggerIsIdempotent(t *testing.T) {
	manager, store := newManager(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if err := manager.Complete(ctx, claimed, json.RawMessage(`{"entities_created":1}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Triggering again for the same completed source creates no second child.
	if err := manager.Retrigger(ctx, "tenant-a", claimed.ID); err != nil {
		t.Fatalf("Retrigger: %v", err)
	}
	children, err := store.Children(ctx, claimed.ID, "extract")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want exactly 1", len(children))
	}
}

func TestRetriggerRequiresCompletedSource(t *testing.T) {
	manager, store := newManager(t)

	item := testsupport.EnqueueItem(t, store, "capture", "")
	err := manager.Retrigger(context.Background(), "tenant-a", item.ID)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
