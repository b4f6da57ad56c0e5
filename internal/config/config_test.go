package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"firestige.xyz/satchel/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "satchel.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}

	if cfg.Capture.Backend != "pcap" {
		t.Errorf("Expected backend pcap, got %s", cfg.Capture.Backend)
	}
	if cfg.Capture.PortRange.Min != 22101 || cfg.Capture.PortRange.Max != 22102 {
		t.Errorf("Expected port range 22101-22102, got %+v", cfg.Capture.PortRange)
	}
	if cfg.Session.HandshakeWindow != 4096 {
		t.Errorf("Expected handshake window 4096, got %d", cfg.Session.HandshakeWindow)
	}
	if cfg.Session.IgnoredFlowTTL != 5*time.Minute {
		t.Errorf("Expected ignored flow TTL 5m, got %v", cfg.Session.IgnoredFlowTTL)
	}
	if !cfg.Export.IncludeArtifacts || cfg.Export.MinArtifactRarity != 5 || cfg.Export.MinWeaponRarity != 3 {
		t.Errorf("Unexpected export defaults: %+v", cfg.Export)
	}
	if !cfg.Log.Outputs.Console.Enabled || cfg.Log.Outputs.File.Rotation.MaxBackups != 7 {
		t.Errorf("Unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
satchel:
  capture:
    backend: file
    file: /tmp/session.pcapng
    port_range:
      min: 22101
      max: 22101
  session:
    handshake_window: 1024
    carry_forward_on_reconnect: true
  export:
    output: good.json
    min_artifact_rarity: 4
    include_materials: false
  log:
    level: debug
    format: json
  reporters:
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      topic: inventory
      batch_timeout: 250ms
    redis:
      enabled: true
      addr: "10.0.0.5:6379"
      ttl: 24h
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Capture.Backend != "file" || cfg.Capture.File != "/tmp/session.pcapng" {
		t.Errorf("Unexpected capture config: %+v", cfg.Capture)
	}
	if cfg.Capture.PortRange.Max != 22101 {
		t.Errorf("Expected port max 22101, got %d", cfg.Capture.PortRange.Max)
	}
	if cfg.Session.HandshakeWindow != 1024 || !cfg.Session.CarryForwardOnReconnect {
		t.Errorf("Unexpected session config: %+v", cfg.Session)
	}
	// Unset keys keep their defaults.
	if cfg.Session.MaxFrameSize != 4<<20 {
		t.Errorf("Expected default max frame size, got %d", cfg.Session.MaxFrameSize)
	}
	if cfg.Export.MinArtifactRarity != 4 || cfg.Export.IncludeMaterials {
		t.Errorf("Unexpected export config: %+v", cfg.Export)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Unexpected log config: %+v", cfg.Log)
	}
	if cfg.Reporters.Kafka.BatchTimeout != 250*time.Millisecond {
		t.Errorf("Expected batch timeout 250ms, got %v", cfg.Reporters.Kafka.BatchTimeout)
	}
	if r := cfg.Reporters.Redis; r.Addr != "10.0.0.5:6379" || r.TTL != 24*time.Hour || r.KeyPrefix != "satchel:export:" {
		t.Errorf("Unexpected redis config: %+v", r)
	}
	if n := cfg.Reporters.NATS; n.Enabled || n.Subject != "satchel" {
		t.Errorf("Unexpected nats config: %+v", n)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SATCHEL_CAPTURE_BACKEND", "afpacket")
	t.Setenv("SATCHEL_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Capture.Backend != "afpacket" {
		t.Errorf("Expected env override afpacket, got %s", cfg.Capture.Backend)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env override warn, got %s", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GlobalConfig)
	}{
		{"invalid log level", func(c *GlobalConfig) { c.Log.Level = "verbose" }},
		{"invalid log format", func(c *GlobalConfig) { c.Log.Format = "xml" }},
		{"unknown backend", func(c *GlobalConfig) { c.Capture.Backend = "pktmon" }},
		{"file backend without file", func(c *GlobalConfig) { c.Capture.Backend = "file"; c.Capture.File = "" }},
		{"reversed port range", func(c *GlobalConfig) { c.Capture.PortRange = PortRangeConfig{Min: 22102, Max: 22101} }},
		{"zero handshake window", func(c *GlobalConfig) { c.Session.HandshakeWindow = 0 }},
		{"negative pending deltas", func(c *GlobalConfig) { c.Session.MaxPendingDeltas = -1 }},
		{"rarity out of range", func(c *GlobalConfig) { c.Export.MinArtifactRarity = 6 }},
		{"kafka without brokers", func(c *GlobalConfig) { c.Reporters.Kafka.Enabled = true }},
		{"nats without url", func(c *GlobalConfig) { c.Reporters.NATS = NATSReporterConfig{Enabled: true, Subject: "satchel"} }},
		{"redis without addr", func(c *GlobalConfig) { c.Reporters.Redis = RedisReporterConfig{Enabled: true} }},
		{"redis negative ttl", func(c *GlobalConfig) {
			c.Reporters.Redis = RedisReporterConfig{Enabled: true, Addr: "127.0.0.1:6379", TTL: -time.Minute}
		}},
		{"dump without path", func(c *GlobalConfig) { c.Capture.Dump = DumpConfig{Enabled: true} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.ValidateAndApplyDefaults()
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestPortRangeContains(t *testing.T) {
	r := PortRangeConfig{Min: 22101, Max: 22102}
	for port, want := range map[uint16]bool{22100: false, 22101: true, 22102: true, 22103: false} {
		if got := r.Contains(port); got != want {
			t.Errorf("Contains(%d) = %v, want %v", port, got, want)
		}
	}
}
