package queue_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"loom/internal/queue"
	"loom/internal/testsupport"
	"loom/internal/workitem"
)

func TestClaimOrdersByPriorityThenAge(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	low := testsupport.EnqueueItem(t, store, "capture", "")
	high, err := store.Enqueue(ctx, queue.EnqueueRequest{
		Type:        "capture",
		Payload:     json.RawMessage(`{"text":"urgent"}`),
		ContainerID: "container-1",
		TenantID:    "tenant-a",
		Priority:    10,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	first := testsupport.ClaimOne(t, store, "worker-1")
	if first.ID != high.ID {
		t.Fatalf("claimed %d first, want high-priority %d", first.ID, high.ID)
	}
	second := testsupport.ClaimOne(t, store, "worker-1")
	if second.ID != low.ID {
		t.Fatalf("claimed %d second, want %d", second.ID, low.ID)
	}
}

func TestClaimBatchRespectsLimit(t *testing.T) {
	store := newStore(t)

	for i := 0; i < 5; i++ {
		testsupport.EnqueueItem(t, store, "capture", "")
	}
	claimed, err := store.Claim(context.Background(), "worker-1", 3, time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 3 {
		t.Fatalf("claimed %d items, want 3", len(claimed))
	}
	for _, item := range claimed {
		if item.Status != workitem.StatusClaimed || item.ClaimedBy != "worker-1" {
			t.Fatalf("bad claim state: %+v", item)
		}
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	store := newStore(t)
	claimed, err := store.Claim(context.Background(), "worker-1", 5, time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed %d items from empty queue", len(claimed))
	}
}

func TestClaimHonorsDelayedAvailability(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{
		Type:        "capture",
		Payload:     json.RawMessage(`{"text":"later"}`),
		ContainerID: "container-1",
		TenantID:    "tenant-a",
		Delay:       30 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := store.Claim(ctx, "worker-1", 1, time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatal("claimed an item before its availability time")
	}

	time.Sleep(40 * time.Millisecond)
	claimed, err = store.Claim(ctx, "worker-1", 1, time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatal("delayed item never became claimable")
	}
}

func TestClaimMutualExclusion(t *testing.T) {
	store := newStore(t)

	const items = 4
	const workers = 8
	for i := 0; i < items; i++ {
		testsupport.EnqueueItem(t, store, "capture", "")
	}

	var mu sync.Mutex
	seen := make(map[int64]string)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			claimed, err := store.Claim(context.Background(), workerID, items, time.Hour)
			if err != nil {
				t.Errorf("Claim by %s: %v", workerID, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, item := range claimed {
				if owner, dup := seen[item.ID]; dup {
					t.Errorf("item %d claimed by both %s and %s", item.ID, owner, workerID)
				}
				seen[item.ID] = workerID
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("claimed %d distinct items, want %d", len(seen), items)
	}
}

func TestClaimReclaimsStaleItems(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	first := testsupport.ClaimOne(t, store, "worker-dead")

	// A fresh claim does not steal a live one.
	claimed, err := store.Claim(ctx, "worker-live", 1, time.Hour)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatal("stole a non-stale claim")
	}

	// Once the owner's last heartbeat ages past the cutoff, the item is
	// claimable again and the attempt count advances.
	time.Sleep(20 * time.Millisecond)
	claimed, err = store.Claim(ctx, "worker-live", 1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != first.ID {
		t.Fatalf("expected stale item %d to be reclaimed, got %+v", first.ID, claimed)
	}
	if claimed[0].ClaimedBy != "worker-live" {
		t.Fatalf("claimed_by = %q", claimed[0].ClaimedBy)
	}
	if claimed[0].AttemptCount != first.AttemptCount+1 {
		t.Fatalf("attempt_count = %d, want %d", claimed[0].AttemptCount, first.AttemptCount+1)
	}
}

func TestClaimReclaimsStaleCascadingItems(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	first := testsupport.ClaimOne(t, store, "worker-dead")

	// The owner parks the item for cascading and then dies before finishing.
	if err := store.BeginCascade(ctx, first.ID, json.RawMessage(`{"entities_created":2}`)); err != nil {
		t.Fatalf("BeginCascade: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	claimed, err := store.Claim(ctx, "worker-2", 1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != first.ID {
		t.Fatalf("expected stale cascading item %d to be reclaimed, got %+v", first.ID, claimed)
	}
	if claimed[0].Status != workitem.StatusClaimed || claimed[0].ClaimedBy != "worker-2" {
		t.Fatalf("bad reclaim state: %+v", claimed[0])
	}
	if len(claimed[0].Result) != 0 {
		t.Fatalf("reclaim kept stale result %s", claimed[0].Result)
	}

	// The stage reruns from scratch and can finish normally.
	if err := store.Complete(ctx, first.ID, json.RawMessage(`{"entities_created":2}`)); err != nil {
		t.Fatalf("Complete after reclaim: %v", err)
	}
	final, err := store.Get(ctx, "tenant-a", first.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != workitem.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
}

func TestHeartbeatKeepsClaimAlive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	first := testsupport.ClaimOne(t, store, "worker-1")

	time.Sleep(20 * time.Millisecond)
	if err := store.UpdateHeartbeat(ctx, first.ID, "worker-1"); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}

	// The heartbeat is fresher than the cutoff, so the item stays owned.
	claimed, err := store.Claim(ctx, "worker-2", 1, 15*time.Millisecond)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatal("heartbeated claim was stolen")
	}
}

func TestHeartbeatRejectedAfterRelease(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	testsupport.EnqueueItem(t, store, "capture", "")
	first := testsupport.ClaimOne(t, store, "worker-1")
	if err := store.Complete(ctx, first.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if err := store.UpdateHeartbeat(ctx, first.ID, "worker-1"); err == nil {
		t.Fatal("heartbeat on a completed item should fail")
	}
}
