// Package config loads process-wide server configuration from environment
// variables (spec §6) plus an optional YAML overrides file, the same shape the
// teacher uses for its cloudflared/AI provider config. Config is a plain value
// constructed once in main and threaded through explicitly — consistent with
// spec §9's redesign flag against module-level singletons.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults pinned in SPEC_FULL.md §1.
const (
	DefaultBindAddress             = "0.0.0.0"
	DefaultPort                    = 4020
	DefaultMaxFrameBytes           = 4 * 1024 * 1024
	DefaultHeartbeatInterval       = 15 // seconds
	DefaultPingInterval            = 30 // seconds
	DefaultBackpressureHighWater   = 32 // queued frames
	DefaultScrollbackLines         = 10000
	DefaultMaxIPCClientsPerSession = 16
	DefaultKillGracePeriodSeconds  = 5
)

// Config holds the server's runtime configuration.
type Config struct {
	BindAddress string `yaml:"bind_address,omitempty"`
	Port        int    `yaml:"port,omitempty"`
	ControlDir  string `yaml:"control_dir,omitempty"`

	MaxFrameBytes           int `yaml:"max_frame_bytes,omitempty"`
	HeartbeatIntervalSec    int `yaml:"heartbeat_interval_seconds,omitempty"`
	PingIntervalSec         int `yaml:"ping_interval_seconds,omitempty"`
	BackpressureHighWater   int `yaml:"backpressure_high_water,omitempty"`
	ScrollbackLines         int `yaml:"scrollback_lines,omitempty"`
	MaxIPCClientsPerSession int `yaml:"max_ipc_clients_per_session,omitempty"`
	KillGracePeriodSeconds  int `yaml:"kill_grace_period_seconds,omitempty"`
}

// Default returns a Config populated with the pinned defaults.
func Default() Config {
	return Config{
		BindAddress:             DefaultBindAddress,
		Port:                    DefaultPort,
		ControlDir:              defaultControlDir(),
		MaxFrameBytes:           DefaultMaxFrameBytes,
		HeartbeatIntervalSec:    DefaultHeartbeatInterval,
		PingIntervalSec:         DefaultPingInterval,
		BackpressureHighWater:   DefaultBackpressureHighWater,
		ScrollbackLines:         DefaultScrollbackLines,
		MaxIPCClientsPerSession: DefaultMaxIPCClientsPerSession,
		KillGracePeriodSeconds:  DefaultKillGracePeriodSeconds,
	}
}

func defaultControlDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("vt-%d", os.Getpid()))
}

// Load builds a Config from the pinned defaults, an optional YAML file at
// yamlPath (if non-empty and present), and finally environment variables,
// which take precedence (the same override order the teacher follows:
// built-in default -> file -> explicit env/flag).
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", yamlPath, err)
		}
	}

	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = p
	}
	if v := os.Getenv("VIBETUNNEL_CONTROL_DIR"); v != "" {
		cfg.ControlDir = v
	}

	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if cfg.HeartbeatIntervalSec <= 0 {
		cfg.HeartbeatIntervalSec = DefaultHeartbeatInterval
	}
	if cfg.PingIntervalSec <= 0 {
		cfg.PingIntervalSec = DefaultPingInterval
	}
	if cfg.BackpressureHighWater <= 0 {
		cfg.BackpressureHighWater = DefaultBackpressureHighWater
	}
	if cfg.ScrollbackLines <= 0 {
		cfg.ScrollbackLines = DefaultScrollbackLines
	}
	if cfg.MaxIPCClientsPerSession <= 0 {
		cfg.MaxIPCClientsPerSession = DefaultMaxIPCClientsPerSession
	}
	if cfg.KillGracePeriodSeconds <= 0 {
		cfg.KillGracePeriodSeconds = DefaultKillGracePeriodSeconds
	}

	return cfg, nil
}

// Addr returns the "host:port" listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}
