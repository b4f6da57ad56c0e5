// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/satchel/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `satchel:` root key in YAML.
type GlobalConfig struct {
	Capture   CaptureConfig   `mapstructure:"capture"`
	Session   SessionConfig   `mapstructure:"session"`
	Export    ExportConfig    `mapstructure:"export"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Reporters ReportersConfig `mapstructure:"reporters"`
}

// ─── Capture ───

// CaptureConfig selects and tunes the capture backend.
type CaptureConfig struct {
	Backend     string          `mapstructure:"backend"`    // pcap | afpacket | file
	Interfaces  []string        `mapstructure:"interfaces"` // Empty = every up, non-loopback device (pcap); first device (afpacket)
	File        string          `mapstructure:"file"`       // Capture file replayed by the file backend
	PortRange   PortRangeConfig `mapstructure:"port_range"`
	BPFFilter   string          `mapstructure:"bpf_filter"` // Empty = derived from port_range
	SnapLen     int             `mapstructure:"snap_len"`
	Promiscuous bool            `mapstructure:"promiscuous"`
	BufferSize  int             `mapstructure:"buffer_size"` // Frame channel capacity
	AFPacket    AFPacketConfig  `mapstructure:"afpacket"`
	Dump        DumpConfig      `mapstructure:"dump"`
}

// PortRangeConfig is the inclusive UDP port range used by game servers.
type PortRangeConfig struct {
	Min uint16 `mapstructure:"min"`
	Max uint16 `mapstructure:"max"`
}

// Contains reports whether port lies inside the range.
func (r PortRangeConfig) Contains(port uint16) bool {
	return port >= r.Min && port <= r.Max
}

// AFPacketConfig tunes the TPACKET_V3 ring.
type AFPacketConfig struct {
	BlockSize int `mapstructure:"block_size"`
	NumBlocks int `mapstructure:"num_blocks"`
}

// DumpConfig writes every captured frame to a pcap file for offline replay.
type DumpConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ─── Session ───

// SessionConfig bounds the per-session decoding state.
type SessionConfig struct {
	HandshakeWindow         int           `mapstructure:"handshake_window"`      // Leading server bytes searched for the key exchange
	MaxFrameSize            int           `mapstructure:"max_frame_size"`        // Largest accepted frame body
	MaxDecompressedSize     int           `mapstructure:"max_decompressed_size"` // Largest inflated payload
	MaxBufferedBytes        int           `mapstructure:"max_buffered_bytes"`    // Reorder buffer bound per direction
	MaxPendingDeltas        int           `mapstructure:"max_pending_deltas"`
	CarryForwardOnReconnect bool          `mapstructure:"carry_forward_on_reconnect"`
	DirectionQueue          int           `mapstructure:"direction_queue"`
	IgnoredFlowTTL          time.Duration `mapstructure:"ignored_flow_ttl"`
}

// ─── Export ───

// ExportConfig controls the GOOD projection and where it is written.
type ExportConfig struct {
	Output                    string `mapstructure:"output"` // Empty or "-" = stdout
	Source                    string `mapstructure:"source"`
	GameData                  string `mapstructure:"gamedata"`
	IncludeCharacters         bool   `mapstructure:"include_characters"`
	IncludeArtifacts          bool   `mapstructure:"include_artifacts"`
	IncludeWeapons            bool   `mapstructure:"include_weapons"`
	IncludeMaterials          bool   `mapstructure:"include_materials"`
	MinCharacterLevel         int    `mapstructure:"min_character_level"`
	MinCharacterAscension     int    `mapstructure:"min_character_ascension"`
	MinCharacterConstellation int    `mapstructure:"min_character_constellation"`
	MinArtifactLevel          int    `mapstructure:"min_artifact_level"`
	MinArtifactRarity         int    `mapstructure:"min_artifact_rarity"`
	MinWeaponLevel            int    `mapstructure:"min_weapon_level"`
	MinWeaponRefinement       int    `mapstructure:"min_weapon_refinement"`
	MinWeaponAscension        int    `mapstructure:"min_weapon_ascension"`
	MinWeaponRarity           int    `mapstructure:"min_weapon_rarity"`
	FakeInitializeFourthLine  bool   `mapstructure:"fake_initialize_4th_line"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	Console ConsoleOutputConfig `mapstructure:"console"`
	File    FileOutputConfig    `mapstructure:"file"`
}

// ConsoleOutputConfig configures stderr log output.
type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Reporters ───

// ReportersConfig holds status reporter configurations.
type ReportersConfig struct {
	Kafka KafkaReporterConfig `mapstructure:"kafka"`
	NATS  NATSReporterConfig  `mapstructure:"nats"`
	Redis RedisReporterConfig `mapstructure:"redis"`
}

// KafkaReporterConfig publishes status events and the final export to Kafka.
type KafkaReporterConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// NATSReporterConfig publishes status events and the final export to NATS.
// Subjects are <subject>.status.<kind> and <subject>.export.
type NATSReporterConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Subject string        `mapstructure:"subject"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisReporterConfig publishes status events on a channel and stores the
// final export under <key_prefix><session_id> and <key_prefix>latest.
type RedisReporterConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Channel   string        `mapstructure:"channel"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"` // 0 = keep forever
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `satchel: ...`.
type configRoot struct {
	Satchel GlobalConfig `mapstructure:"satchel"`
}

// Load loads configuration from file. An empty path yields the defaults.
// Env vars override file values, e.g. SATCHEL_CAPTURE_BACKEND.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `satchel.` key prefix maps to `SATCHEL_` through the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Satchel

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// AutomaticEnv only resolves keys viper knows about, so every key gets a default.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("satchel.capture.backend", "pcap")
	v.SetDefault("satchel.capture.interfaces", []string{})
	v.SetDefault("satchel.capture.file", "")
	v.SetDefault("satchel.capture.port_range.min", 22101)
	v.SetDefault("satchel.capture.port_range.max", 22102)
	v.SetDefault("satchel.capture.bpf_filter", "")
	v.SetDefault("satchel.capture.snap_len", 65535)
	v.SetDefault("satchel.capture.promiscuous", false)
	v.SetDefault("satchel.capture.buffer_size", 4096)
	v.SetDefault("satchel.capture.afpacket.block_size", 1<<20)
	v.SetDefault("satchel.capture.afpacket.num_blocks", 16)
	v.SetDefault("satchel.capture.dump.enabled", false)
	v.SetDefault("satchel.capture.dump.path", "satchel-raw.pcap")

	// Session defaults
	v.SetDefault("satchel.session.handshake_window", 4096)
	v.SetDefault("satchel.session.max_frame_size", 4<<20)
	v.SetDefault("satchel.session.max_decompressed_size", 16<<20)
	v.SetDefault("satchel.session.max_buffered_bytes", 8<<20)
	v.SetDefault("satchel.session.max_pending_deltas", 1024)
	v.SetDefault("satchel.session.carry_forward_on_reconnect", false)
	v.SetDefault("satchel.session.direction_queue", 1024)
	v.SetDefault("satchel.session.ignored_flow_ttl", "5m")

	// Export defaults
	v.SetDefault("satchel.export.output", "")
	v.SetDefault("satchel.export.source", "satchel")
	v.SetDefault("satchel.export.gamedata", "")
	v.SetDefault("satchel.export.include_characters", true)
	v.SetDefault("satchel.export.include_artifacts", true)
	v.SetDefault("satchel.export.include_weapons", true)
	v.SetDefault("satchel.export.include_materials", true)
	v.SetDefault("satchel.export.min_character_level", 1)
	v.SetDefault("satchel.export.min_character_ascension", 0)
	v.SetDefault("satchel.export.min_character_constellation", 0)
	v.SetDefault("satchel.export.min_artifact_level", 0)
	v.SetDefault("satchel.export.min_artifact_rarity", 5)
	v.SetDefault("satchel.export.min_weapon_level", 1)
	v.SetDefault("satchel.export.min_weapon_refinement", 0)
	v.SetDefault("satchel.export.min_weapon_ascension", 0)
	v.SetDefault("satchel.export.min_weapon_rarity", 3)
	v.SetDefault("satchel.export.fake_initialize_4th_line", false)

	// Log defaults
	v.SetDefault("satchel.log.level", "info")
	v.SetDefault("satchel.log.format", "text")
	v.SetDefault("satchel.log.outputs.console.enabled", true)
	v.SetDefault("satchel.log.outputs.file.enabled", false)
	v.SetDefault("satchel.log.outputs.file.path", "logs/satchel.log")
	v.SetDefault("satchel.log.outputs.file.rotation.max_size_mb", 50)
	v.SetDefault("satchel.log.outputs.file.rotation.max_age_days", 7)
	v.SetDefault("satchel.log.outputs.file.rotation.max_backups", 7)
	v.SetDefault("satchel.log.outputs.file.rotation.compress", false)

	// Metrics defaults
	v.SetDefault("satchel.metrics.enabled", false)
	v.SetDefault("satchel.metrics.listen", "127.0.0.1:9091")
	v.SetDefault("satchel.metrics.path", "/metrics")

	// Reporter defaults
	v.SetDefault("satchel.reporters.kafka.enabled", false)
	v.SetDefault("satchel.reporters.kafka.brokers", []string{})
	v.SetDefault("satchel.reporters.kafka.topic", "satchel-sessions")
	v.SetDefault("satchel.reporters.kafka.compression", "snappy")
	v.SetDefault("satchel.reporters.kafka.batch_timeout", "100ms")
	v.SetDefault("satchel.reporters.kafka.max_attempts", 3)
	v.SetDefault("satchel.reporters.nats.enabled", false)
	v.SetDefault("satchel.reporters.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("satchel.reporters.nats.subject", "satchel")
	v.SetDefault("satchel.reporters.nats.timeout", "2s")
	v.SetDefault("satchel.reporters.redis.enabled", false)
	v.SetDefault("satchel.reporters.redis.addr", "127.0.0.1:6379")
	v.SetDefault("satchel.reporters.redis.password", "")
	v.SetDefault("satchel.reporters.redis.db", 0)
	v.SetDefault("satchel.reporters.redis.channel", "satchel:status")
	v.SetDefault("satchel.reporters.redis.key_prefix", "satchel:export:")
	v.SetDefault("satchel.reporters.redis.ttl", "0s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
// Every failure wraps core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Capture ──
	switch cfg.Capture.Backend {
	case "pcap", "afpacket":
	case "file":
		if cfg.Capture.File == "" {
			return fmt.Errorf("%w: capture.file is required when capture.backend=file", core.ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported capture.backend: %q (must be pcap/afpacket/file)", core.ErrConfigInvalid, cfg.Capture.Backend)
	}
	pr := cfg.Capture.PortRange
	if pr.Min == 0 || pr.Min > pr.Max {
		return fmt.Errorf("%w: capture.port_range %d-%d is empty", core.ErrConfigInvalid, pr.Min, pr.Max)
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 65535
	}
	if cfg.Capture.BufferSize <= 0 {
		cfg.Capture.BufferSize = 4096
	}
	if cfg.Capture.Dump.Enabled && cfg.Capture.Dump.Path == "" {
		return fmt.Errorf("%w: capture.dump.path is required when capture.dump.enabled=true", core.ErrConfigInvalid)
	}

	// ── Session limits ──
	limits := []struct {
		name  string
		value int
	}{
		{"session.handshake_window", cfg.Session.HandshakeWindow},
		{"session.max_frame_size", cfg.Session.MaxFrameSize},
		{"session.max_decompressed_size", cfg.Session.MaxDecompressedSize},
		{"session.max_buffered_bytes", cfg.Session.MaxBufferedBytes},
		{"session.max_pending_deltas", cfg.Session.MaxPendingDeltas},
		{"session.direction_queue", cfg.Session.DirectionQueue},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", core.ErrConfigInvalid, l.name, l.value)
		}
	}

	// ── Export ──
	for name, rarity := range map[string]int{
		"export.min_artifact_rarity": cfg.Export.MinArtifactRarity,
		"export.min_weapon_rarity":   cfg.Export.MinWeaponRarity,
	} {
		if rarity < 0 || rarity > 5 {
			return fmt.Errorf("%w: %s must be within 0-5, got %d", core.ErrConfigInvalid, name, rarity)
		}
	}
	for name, minimum := range map[string]int{
		"export.min_character_level":         cfg.Export.MinCharacterLevel,
		"export.min_character_ascension":     cfg.Export.MinCharacterAscension,
		"export.min_character_constellation": cfg.Export.MinCharacterConstellation,
		"export.min_artifact_level":          cfg.Export.MinArtifactLevel,
		"export.min_weapon_level":            cfg.Export.MinWeaponLevel,
		"export.min_weapon_refinement":       cfg.Export.MinWeaponRefinement,
		"export.min_weapon_ascension":        cfg.Export.MinWeaponAscension,
	} {
		if minimum < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %d", core.ErrConfigInvalid, name, minimum)
		}
	}
	if cfg.Export.Source == "" {
		cfg.Export.Source = "satchel"
	}

	// ── Reporters ──
	if k := cfg.Reporters.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return fmt.Errorf("%w: reporters.kafka.brokers is required when reporters.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if k.Topic == "" {
			return fmt.Errorf("%w: reporters.kafka.topic is required when reporters.kafka.enabled=true", core.ErrConfigInvalid)
		}
	}
	if n := cfg.Reporters.NATS; n.Enabled && (n.URL == "" || n.Subject == "") {
		return fmt.Errorf("%w: reporters.nats.url and reporters.nats.subject are required when reporters.nats.enabled=true", core.ErrConfigInvalid)
	}
	if r := cfg.Reporters.Redis; r.Enabled {
		if r.Addr == "" {
			return fmt.Errorf("%w: reporters.redis.addr is required when reporters.redis.enabled=true", core.ErrConfigInvalid)
		}
		if r.TTL < 0 {
			return fmt.Errorf("%w: reporters.redis.ttl must not be negative", core.ErrConfigInvalid)
		}
	}

	return nil
}
