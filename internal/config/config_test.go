package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if cfg.Governance.MergeThreshold != 0.8 {
		t.Fatalf("merge threshold default = %v", cfg.Governance.MergeThreshold)
	}
	if len(cfg.Pipeline.Sequence) == 0 {
		t.Fatal("expected default pipeline sequence")
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + dir + `/data"
log_dir = "` + dir + `/logs"

[workflow]
stale_claim_timeout = 120
heartbeat_interval = 10

[pipeline]
sequence = ["Capture", "EXTRACT"]

[[pipeline.cascades]]
source = "capture"
target = "extract"
when_field = "entities_created"
when_greater_than = 0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved=%q exists=%v", resolved, exists)
	}
	if cfg.Pipeline.Sequence[0] != "capture" || cfg.Pipeline.Sequence[1] != "extract" {
		t.Fatalf("sequence not normalized: %v", cfg.Pipeline.Sequence)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("expected default max_retries, got %d", cfg.Workflow.MaxRetries)
	}
}

func TestValidateRejectsBadCascade(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Cascades = append(cfg.Pipeline.Cascades, config.CascadeRule{
		Source: "capture",
		Target: "nonexistent",
	})
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown target stage") {
		t.Fatalf("expected unknown target error, got %v", err)
	}
}

func TestValidateRejectsStaleTimeoutBelowHeartbeat(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.StaleClaimTimeout = 5
	cfg.Workflow.HeartbeatInterval = 15
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected stale_claim_timeout validation error")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error on second WriteSample")
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil || !exists {
		t.Fatalf("Load sample: %v exists=%v", err, exists)
	}
	if cfg.Workflow.WorkerCount != 2 {
		t.Fatalf("sample worker_count = %d", cfg.Workflow.WorkerCount)
	}
}
