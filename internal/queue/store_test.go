package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/testsupport"
	"loom/internal/workitem"
)

func newStore(t *testing.T) *queue.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	registry := testsupport.NewRegistry(t, cfg)
	return testsupport.MustOpenStore(t, cfg, registry)
}

func TestEnqueueAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item, err := store.Enqueue(ctx, queue.EnqueueRequest{
		Type:        "capture",
		Payload:     json.RawMessage(`{"text":"Revenue grew 10%"}`),
		ContainerID: "container-1",
		TenantID:    "tenant-a",
		Priority:    5,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected item ID to be assigned")
	}
	if item.Status != workitem.StatusPending {
		t.Fatalf("status = %s, want pending", item.Status)
	}
	if item.AttemptCount != 0 {
		t.Fatalf("attempt_count = %d, want 0", item.AttemptCount)
	}

	fetched, err := store.Get(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetched.Priority != 5 || fetched.Type != "capture" {
		t.Fatalf("unexpected fetched item: %+v", fetched)
	}
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		req     queue.EnqueueRequest
	}{
		{"unknown type", queue.EnqueueRequest{Type: "transcode", Payload: json.RawMessage(`{}`), ContainerID: "c", TenantID: "t"}},
		{"non-object payload", queue.EnqueueRequest{Type: "capture", Payload: json.RawMessage(`[1,2]`), ContainerID: "c", TenantID: "t"}},
		{"empty payload", queue.EnqueueRequest{Type: "capture", ContainerID: "c", TenantID: "t"}},
		{"missing tenant", queue.EnqueueRequest{Type: "capture", Payload: json.RawMessage(`{}`), ContainerID: "c"}},
		{"missing container", queue.EnqueueRequest{Type: "capture", Payload: json.RawMessage(`{}`), TenantID: "t"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Enqueue(ctx, tc.req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGetEnforcesTenantIsolation(t *testing.T) {
	store := newStore(t)
	item := testsupport.EnqueueItem(t, store, "capture", "")

	_, err := store.Get(context.Background(), "tenant-b", item.ID)
	if !errors.Is(err, services.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func TestGetMissingItem(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(context.Background(), "tenant-a", 4242)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListScopedToTenant(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{
		Type:        "capture",
		Payload:     json.RawMessage(`{"text":"other tenant"}`),
		ContainerID: "container-9",
		TenantID:    "tenant-b",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	items, err := store.List(ctx, queue.Filter{TenantID: "tenant-a"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range items {
		if item.TenantID != "tenant-a" {
			t.Fatalf("list leaked tenant %q item %d", item.TenantID, item.ID)
		}
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item for tenant-a, got %d", len(items))
	}
}

func TestListFiltersStatusAndType(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	second := testsupport.EnqueueItem(t, store, "extract", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if claimed.ID == second.ID {
		t.Fatal("claim order: expected first enqueued item first")
	}

	items, err := store.List(ctx, queue.Filter{
		TenantID: "tenant-a",
		Statuses: []workitem.Status{workitem.StatusPending},
		Types:    []workitem.Type{"extract"},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].ID != second.ID {
		t.Fatalf("unexpected filtered result: %+v", items)
	}
}

func TestCompleteLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if claimed.AttemptCount != 1 {
		t.Fatalf("attempt_count after claim = %d, want 1", claimed.AttemptCount)
	}
	if claimed.ClaimedBy != "worker-1" {
		t.Fatalf("claimed_by = %q", claimed.ClaimedBy)
	}

	if err := store.MarkProcessing(ctx, claimed.ID, "worker-1"); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := store.Complete(ctx, claimed.ID, json.RawMessage(`{"entities_created":1}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	final, err := store.Get(ctx, "tenant-a", claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != workitem.StatusCompleted {
		t.Fatalf("status = %s", final.Status)
	}
	if final.ClaimedBy != "" {
		t.Fatal("claimed_by should clear on terminal transition")
	}
	if final.DecodedResult().EntitiesCreated() != 1 {
		t.Fatalf("result not stored: %s", final.Result)
	}
	if final.ErrorMessage != "" {
		t.Fatal("terminal completed item must not carry an error")
	}
}

func TestCompleteNotOwnedIsConflict(t *testing.T) {
	store := newStore(t)
	item := testsupport.EnqueueItem(t, store, "capture", "")

	err := store.Complete(context.Background(), item.ID, json.RawMessage(`{}`))
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The pending item must be untouched.
	fresh, getErr := store.Get(context.Background(), "tenant-a", item.ID)
	if getErr != nil || fresh.Status != workitem.StatusPending {
		t.Fatalf("item corrupted by conflicting complete: %+v %v", fresh, getErr)
	}
}

func TestFailRequeuesTransientErrors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")

	requeued, err := store.Fail(ctx, claimed.ID, "store unavailable", true, 3)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if !requeued {
		t.Fatal("expected transient failure to requeue")
	}

	item, err := store.Get(ctx, "tenant-a", claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != workitem.StatusPending {
		t.Fatalf("status = %s, want pending", item.Status)
	}
	if item.ErrorMessage != "" {
		t.Fatal("requeued item should not retain an error")
	}
}

func TestFailTerminalAfterMaxRetries(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	// Exhaust attempts: claim increments attempt_count each cycle.
	var lastID int64
	for attempt := 0; attempt < 3; attempt++ {
		claimed := testsupport.ClaimOne(t, store, "worker-1")
		lastID = claimed.ID
		requeued, err := store.Fail(ctx, claimed.ID, "flaky downstream", true, 3)
		if err != nil {
			t.Fatalf("Fail attempt %d: %v", attempt, err)
		}
		if attempt < 2 && !requeued {
			t.Fatalf("attempt %d should requeue", attempt)
		}
		if attempt == 2 && requeued {
			t.Fatal("final attempt should be terminal")
		}
	}

	item, err := store.Get(ctx, "tenant-a", lastID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != workitem.StatusFailed {
		t.Fatalf("status = %s, want failed", item.Status)
	}
	if item.ErrorMessage != "flaky downstream" {
		t.Fatalf("error = %q", item.ErrorMessage)
	}
	if len(item.Result) != 0 {
		t.Fatal("failed item must not carry a result")
	}
}

func TestFailPermanentErrorIsTerminal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")

	requeued, err := store.Fail(ctx, claimed.ID, "payload rejected", false, 3)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if requeued {
		t.Fatal("permanent failures must not requeue")
	}
}

func TestRetryOnlyFailedItems(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if _, err := store.Fail(ctx, claimed.ID, "boom", false, 3); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if err := store.Retry(ctx, "tenant-a", claimed.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	item, err := store.Get(ctx, "tenant-a", claimed.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != workitem.StatusPending || item.ErrorMessage != "" {
		t.Fatalf("retry left item in %s with error %q", item.Status, item.ErrorMessage)
	}

	// A second retry hits a pending item and conflicts.
	if err := store.Retry(ctx, "tenant-a", claimed.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRequestCancelSetsFlag(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	item := testsupport.EnqueueItem(t, store, "capture", "")
	if err := store.RequestCancel(ctx, "tenant-a", item.ID); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}
	fresh, err := store.Get(ctx, "tenant-a", item.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !fresh.CancelRequested {
		t.Fatal("cancel_requested not set")
	}
}

func TestHealthAggregates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if err := store.Complete(ctx, claimed.ID, json.RawMessage(`{"entities_created":2}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Completed != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.AvgProcessingTime < 0 {
		t.Fatalf("negative avg processing time: %v", health.AvgProcessingTime)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	if err := store.Complete(ctx, claimed.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	events, err := store.AuditTrail(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	var kinds []string
	for _, event := range events {
		kinds = append(kinds, event.EventType)
	}
	want := []string{"enqueued", "claimed", "completed"}
	if len(kinds) != len(want) {
		t.Fatalf("audit events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("audit events = %v, want %v", kinds, want)
		}
	}
}

func TestCheckHealth(t *testing.T) {
	store := newStore(t)
	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected diagnostics: %+v", health)
	}
}

func TestStageAveragesOnlyCompleted(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	claimed := testsupport.ClaimOne(t, store, "worker-1")
	time.Sleep(10 * time.Millisecond)
	if err := store.Complete(ctx, claimed.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	averages, err := store.StageAverages(ctx)
	if err != nil {
		t.Fatalf("StageAverages: %v", err)
	}
	if avg := averages["capture"]; avg <= 0 {
		t.Fatalf("expected positive capture average, got %v", avg)
	}
}
