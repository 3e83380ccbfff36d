package logger

import (
	"log/slog"
	"testing"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSyncMode(t *testing.T) {
	log, closer := New(config.Logging{Level: "info", Service: "gslsp"})
	if log == nil {
		t.Fatal("expected logger")
	}
	// No-op in sync mode; must be safe to call.
	closer.Close()
}

func TestNewAsyncMode(t *testing.T) {
	log, closer := New(config.Logging{Level: "debug", Service: "gslsp", Async: true})
	log.Info("startup", "component", "test")
	// Close must flush without deadlocking.
	closer.Close()
}
