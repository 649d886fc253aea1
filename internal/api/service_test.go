package api_test

import (
	"context"
	"encoding/json"
	"testing"

	"loom/internal/api"
	"loom/internal/governance"
	"loom/internal/queue"
	"loom/internal/testsupport"
	"loom/internal/workitem"
)

func newWorkService(t *testing.T) (*api.WorkService, *queue.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	registry := testsupport.NewRegistry(t, cfg)
	store := testsupport.MustOpenStore(t, cfg, registry)
	svc := api.NewWorkService(store, registry)
	if svc == nil {
		t.Fatal("NewWorkService returned nil")
	}
	return svc, store
}

func TestWorkServiceSubmitReturnsDerivedView(t *testing.T) {
	svc, _ := newWorkService(t)
	ctx := context.Background()

	view, err := svc.Submit(ctx, api.SubmitWorkRequest{
		Type:        "capture",
		Payload:     json.RawMessage(`{"text":"quarterly report"}`),
		TenantID:    "tenant-a",
		ContainerID: "container-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.WorkID == 0 {
		t.Fatal("expected assigned work id")
	}
	if view.Status != string(workitem.StatusPending) {
		t.Fatalf("status = %s, want pending", view.Status)
	}
	if view.PercentComplete != 0 {
		t.Fatalf("percent = %v, want 0 for pending first stage", view.PercentComplete)
	}
	if view.StageCount != 4 {
		t.Fatalf("stage count = %d, want 4", view.StageCount)
	}
}

func TestWorkServiceDescribeAfterCompletion(t *testing.T) {
	svc, store := newWorkService(t)
	ctx := context.Background()

	item := testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if claimed.ID != item.ID {
		t.Fatalf("claimed %d, want %d", claimed.ID, item.ID)
	}
	if err := store.Complete(ctx, item.ID, json.RawMessage(`{"entities_created":2}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	view, err := svc.Describe(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if view.Status != string(workitem.StatusCompleted) {
		t.Fatalf("status = %s, want completed", view.Status)
	}
	if view.PercentComplete != 25 {
		t.Fatalf("percent = %v, want 25", view.PercentComplete)
	}
	if view.EntitiesCreated != 2 {
		t.Fatalf("entities created = %d, want 2", view.EntitiesCreated)
	}
	if view.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", view.Attempts)
	}
}

func TestWorkServiceDescribeEnforcesTenantScope(t *testing.T) {
	svc, store := newWorkService(t)
	item := testsupport.EnqueueItem(t, store, "capture", "")

	if _, err := svc.Describe(context.Background(), "tenant-b", item.ID); err == nil {
		t.Fatal("expected cross-tenant describe to fail")
	}
}

func TestWorkServiceListFiltersByStatus(t *testing.T) {
	svc, store := newWorkService(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	second := testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if err := store.Complete(ctx, claimed.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	pending, err := svc.List(ctx, queue.Filter{
		TenantID: "tenant-a",
		Statuses: []workitem.Status{workitem.StatusPending},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending views = %d, want 1", len(pending))
	}
	if pending[0].WorkID != second.ID {
		t.Fatalf("pending id = %d, want %d", pending[0].WorkID, second.ID)
	}
}

func TestWorkServiceRetryAndCancel(t *testing.T) {
	svc, store := newWorkService(t)
	ctx := context.Background()

	item := testsupport.EnqueueItem(t, store, "capture", "")
	testsupport.ClaimOne(t, store, "worker-1")
	if _, err := store.Fail(ctx, item.ID, "boom", false, 3); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := svc.Retry(ctx, "tenant-a", item.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	view, err := svc.Describe(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if view.Status != string(workitem.StatusPending) {
		t.Fatalf("status = %s, want pending after retry", view.Status)
	}

	if err := svc.Cancel(ctx, "tenant-a", item.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	view, err = svc.Describe(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !view.CancelRequested {
		t.Fatal("expected cancel_requested flag")
	}
}

func TestWorkServiceHealth(t *testing.T) {
	svc, store := newWorkService(t)

	testsupport.EnqueueItem(t, store, "capture", "")
	testsupport.EnqueueItem(t, store, "capture", "")

	health, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 2 {
		t.Fatalf("health = %+v, want 2 total pending", health)
	}
}

func TestProposalServiceLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)
	svc := api.NewProposalService(engine)
	if svc == nil {
		t.Fatal("NewProposalService returned nil")
	}
	ctx := context.Background()

	view, err := svc.Submit(ctx, governance.SubmitRequest{
		Kind:        governance.KindExtraction,
		Origin:      governance.OriginHuman,
		TenantID:    "tenant-a",
		ContainerID: "container-1",
		Ops: []governance.OperationDraft{
			{Type: governance.OpCreateEntity, Content: "Quarterly revenue grew 12%", Kind: "fact"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.Status != string(governance.StatusProposed) {
		t.Fatalf("status = %s, want proposed", view.Status)
	}
	if view.Confidence <= 0 {
		t.Fatalf("confidence = %v, want positive", view.Confidence)
	}
	if len(view.Operations) != 1 {
		t.Fatalf("operations = %d, want 1", len(view.Operations))
	}

	exec, err := svc.Review(ctx, governance.ReviewRequest{
		ProposalID: view.ID,
		TenantID:   "tenant-a",
		Decision:   governance.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !exec.Executed {
		t.Fatal("expected approval to execute")
	}
	if len(exec.Log) != 1 || exec.Log[0].Outcome != string(governance.OutcomeSuccess) {
		t.Fatalf("log = %+v, want one success entry", exec.Log)
	}

	described, err := svc.Describe(ctx, "tenant-a", view.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !described.IsExecuted {
		t.Fatal("expected is_executed after approval")
	}
	if described.Operations[0].ResultEntityID == "" {
		t.Fatal("expected result entity id recorded on the operation")
	}
}
