package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"loom/internal/logging"
	"loom/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "loomd.log")

	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	logger.Info("claim succeeded", logging.Int64(logging.FieldItemID, 12))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "claim succeeded") {
		t.Fatalf("log file missing record: %q", string(data))
	}
	if !strings.Contains(string(data), "item_id=12") {
		t.Fatalf("log file missing attr: %q", string(data))
	}
}

func TestWithContextCarriesFields(t *testing.T) {
	ctx := services.WithItemID(t.Context(), 99)
	ctx = services.WithStage(ctx, "capture")

	fields := logging.ContextFields(ctx)
	keys := make(map[string]bool, len(fields))
	for _, f := range fields {
		keys[f.Key] = true
	}
	if !keys[logging.FieldItemID] || !keys[logging.FieldWorkType] {
		t.Fatalf("missing context fields: %v", keys)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("should not panic", logging.Error(nil))
}
