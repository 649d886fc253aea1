package daemon_test

import (
	"context"
	"encoding/json"
	"testing"

	"loom/internal/api"
	"loom/internal/cascade"
	"loom/internal/config"
	"loom/internal/daemon"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/testsupport"
	"loom/internal/workflow"
	"loom/internal/workitem"
)

func newDaemon(t *testing.T) (*daemon.Daemon, *config.Config, *queue.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	registry := testsupport.NewRegistry(t, cfg)
	store := testsupport.MustOpenStore(t, cfg, registry)
	logger := logging.NewNop()

	cascades, err := cascade.NewManager(store, registry, cfg.Pipeline.Cascades, logger)
	if err != nil {
		t.Fatalf("cascade.NewManager: %v", err)
	}
	mgr := workflow.NewManager(cfg, store, cascades, registry, logger)
	err = mgr.RegisterHandler("capture", workflow.HandlerFunc(func(ctx context.Context, item *workitem.Item) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}))
	if err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	d, err := daemon.New(cfg, store, logger, mgr, api.NewWorkService(store, registry), nil, "")
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Stop()
	})
	return d, cfg, store
}

func TestDaemonStartStop(t *testing.T) {
	d, _, _ := newDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail while running")
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.Handlers != 1 {
		t.Fatalf("handlers = %d, want 1", status.Handlers)
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected stopped status")
	}

	// Restart after stop reuses the released lock.
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestDaemonStatusReportsQueueStats(t *testing.T) {
	d, _, store := newDaemon(t)

	testsupport.EnqueueItem(t, store, "capture", "")
	testsupport.EnqueueItem(t, store, "capture", "")

	status := d.Status(context.Background())
	if status.QueueStats[workitem.StatusPending] != 2 {
		t.Fatalf("pending = %d, want 2", status.QueueStats[workitem.StatusPending])
	}
	if status.QueueDBPath == "" {
		t.Fatal("expected queue db path")
	}
}

func TestDaemonWorksFacade(t *testing.T) {
	d, _, _ := newDaemon(t)
	ctx := context.Background()

	view, err := d.Works().Submit(ctx, api.SubmitWorkRequest{
		Type:        "capture",
		Payload:     json.RawMessage(`{"text":"note"}`),
		TenantID:    "tenant-a",
		ContainerID: "container-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.WorkID == 0 {
		t.Fatal("expected assigned work id")
	}

	health, err := d.QueueHealth(ctx)
	if err != nil {
		t.Fatalf("QueueHealth: %v", err)
	}
	if health.Total != 1 {
		t.Fatalf("total = %d, want 1", health.Total)
	}

	diag, err := d.DatabaseHealth(ctx)
	if err != nil {
		t.Fatalf("DatabaseHealth: %v", err)
	}
	if !diag.DatabaseExists || !diag.IntegrityCheck {
		t.Fatalf("unexpected diagnostics: %+v", diag)
	}
}
