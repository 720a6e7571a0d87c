package telemetry

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewWithoutLogPath(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()
	logger.Info("stderr only, no file sink configured")
}

func TestNewWithLogPathRotates(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "tangramd.log")
	logger, err := New(Config{LogPath: logPath, Debug: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()
	logger.Debug("debug level enabled, written to both stderr and file")
}

func TestNewTracerProviderNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := NewTracerProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault(0, 42); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if got := orDefault(-1, 42); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if got := orDefault(7, 42); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}
