package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"firestige.xyz/satchel/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"Error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, expected %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestInitConsoleOnly(t *testing.T) {
	cfg := config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: config.LogOutputsConfig{Console: config.ConsoleOutputConfig{Enabled: true}},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info level enabled")
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level disabled")
	}
}

func TestInitWithFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "satchel.log")
	cfg := config.LogConfig{
		Level:  "debug",
		Format: "text",
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled: true,
				Path:    logPath,
				Rotation: config.RotationConfig{
					MaxSizeMB:  10,
					MaxBackups: 7,
					MaxAgeDays: 7,
				},
			},
		},
	}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { Close() })

	slog.Info("session locked", "flow", "10.0.0.1:50000->10.0.0.2:22101")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "session locked") {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestInitErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		wantMsg string
	}{
		{"invalid level", config.LogConfig{Level: "invalid", Format: "json"}, "invalid log level"},
		{"invalid format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{
			"missing file path",
			config.LogConfig{
				Level:   "info",
				Format:  "json",
				Outputs: config.LogOutputsConfig{File: config.FileOutputConfig{Enabled: true}},
			},
			"path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(tt.cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	h, err := newHandler(&buf, "json", slog.LevelWarn)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(h)
	logger.Info("dropped")
	logger.Warn("orphan delta", "guid", 42)

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, `"msg":"orphan delta"`) || !strings.Contains(out, `"guid":42`) {
		t.Errorf("unexpected JSON output: %s", out)
	}

	buf.Reset()
	h, err = newHandler(&buf, "TEXT", slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	slog.New(h).Info("handshake observed", "direction", "server_to_client")
	if !strings.Contains(buf.String(), "direction=server_to_client") {
		t.Errorf("unexpected text output: %s", buf.String())
	}
}
