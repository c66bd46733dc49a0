package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/zhouzirui/smartguard/internal/config"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "widget.log")

	logger, cleanup, err := NewLogger(config.LogConfig{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("NewLogger err: %v", err)
	}
	logger.Debug("hello", zap.String("k", "v"))
	cleanup()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log output in file")
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, _, err := NewLogger(config.LogConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false}, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("Setup err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown err: %v", err)
	}
}

func TestSetupEnabledCreatesExportFiles(t *testing.T) {
	dir := t.TempDir()
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Dir: dir}, "test", zap.NewNop())
	if err != nil {
		t.Fatalf("Setup err: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown err: %v", err)
	}
}
