package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInitLogger_ValidLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"error", "ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			logger := GetLogger()
			if logger == nil {
				t.Fatal("GetLogger() returned nil")
			}
			if !logger.Enabled(context.Background(), tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
		})
	}
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger("invalid")
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestInitLoggerTo(t *testing.T) {
	var buf bytes.Buffer
	if err := InitLoggerTo(&buf, "warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	GetLogger().Info("hidden")
	GetLogger().Warn("shown", "script", "main")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "script=main") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestGetLogger_BeforeInit(t *testing.T) {
	globalLogger = nil

	if GetLogger() != slog.Default() {
		t.Error("GetLogger() should return slog.Default() when not initialized")
	}
}
