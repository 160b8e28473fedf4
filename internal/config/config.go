// Package config loads relay settings: defaults, then an optional YAML
// file, then GUN_* environment variables. Command-line flags are applied
// by the caller last.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvPublic   = "GUN_SC_PUB"
	EnvPrivate  = "GUN_SC_PRIV"
	EnvHost     = "GUN_SC_HOST"
	EnvPort     = "GUN_SC_PORT"
	EnvRedisURL = "GUN_REDIS_URL"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
	TransportMemory    = "memory"
)

// Validation policies.
const (
	PolicyCUE  = "cue"
	PolicyNone = "none"
)

// Config is the whole relay configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Transport TransportConfig `yaml:"transport"`
	Relay     RelayConfig     `yaml:"relay"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig selects and sizes the graph store.
type StoreConfig struct {
	// Backend is "sqlite" or "bolt".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the database file.
	// Default: "./data/gun.db"
	Path string `yaml:"path"`

	// MapSize bounds the memory map, in bytes.
	// Default: 1 TiB (1024^4)
	MapSize int64 `yaml:"map_size"`
}

// TransportConfig selects the channel bus.
type TransportConfig struct {
	// Kind is "websocket", "redis" or "memory".
	// Default: "websocket"
	Kind string `yaml:"kind"`

	// Host and Port locate the websocket broker.
	// Default: localhost:4444
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// URL overrides Host and Port for the websocket broker.
	URL string `yaml:"url"`

	// RedisURL is the redis server, e.g. redis://localhost:6379/0.
	RedisURL string `yaml:"redis_url"`

	// Public and Private are the login credentials. Both must be set for
	// the relay to authenticate.
	Public  string `yaml:"public"`
	Private string `yaml:"private"`

	// Reconnect backoff bounds.
	// Default: 1ms and 500ms
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// RelayConfig tunes the relay itself.
type RelayConfig struct {
	// ReauthInterval is how often the session logs in again.
	// Default: 30m
	ReauthInterval time.Duration `yaml:"reauth_interval"`

	// UploadTimeout is how long an upload waits for its ack. Zero waits
	// for the ack indefinitely.
	// Default: 10ms
	UploadTimeout time.Duration `yaml:"upload_timeout"`

	// EnforceCRDT selects the HAM conflict rule instead of overwrite.
	// Default: false
	EnforceCRDT bool `yaml:"enforce_crdt"`

	// Policy is "cue" or "none".
	// Default: "cue"
	Policy string `yaml:"policy"`

	// PolicyFile replaces the built-in CUE policy.
	PolicyFile string `yaml:"policy_file"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// LogConfig shapes the slog handler.
type LogConfig struct {
	// Format is "text" or "json".
	// Default: "text"
	Format string `yaml:"format"`

	// Level is debug, info, warn or error.
	// Default: "info"
	Level string `yaml:"level"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "./data/gun.db",
			MapSize: 1 << 40,
		},
		Transport: TransportConfig{
			Kind:         TransportWebSocket,
			Host:         "localhost",
			Port:         4444,
			InitialDelay: time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
		},
		Relay: RelayConfig{
			ReauthInterval: 30 * time.Minute,
			UploadTimeout:  10 * time.Millisecond,
			Policy:         PolicyCUE,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if any) and
// then the environment read through getenv. A nil getenv uses os.Getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML strictly: unknown keys are errors.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays the GUN_* variables that are set.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPublic); v != "" {
		c.Transport.Public = v
	}
	if v := getenv(EnvPrivate); v != "" {
		c.Transport.Private = v
	}
	if v := getenv(EnvHost); v != "" {
		c.Transport.Host = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.Transport.Port = port
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Transport.RedisURL = v
	}
	return nil
}

// Validate fills empty values with defaults, clamps out-of-range ones
// and rejects unknown enum values.
func (c *Config) Validate() error {
	d := Default()

	switch c.Store.Backend {
	case "":
		c.Store.Backend = d.Store.Backend
	case BackendSQLite, BackendBolt:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Store.MapSize <= 0 {
		c.Store.MapSize = d.Store.MapSize
	}

	switch c.Transport.Kind {
	case "":
		c.Transport.Kind = d.Transport.Kind
	case TransportWebSocket, TransportMemory:
	case TransportRedis:
		if c.Transport.RedisURL == "" {
			return fmt.Errorf("transport.redis_url: required for redis transport (or set %s)", EnvRedisURL)
		}
	default:
		return fmt.Errorf("transport.kind: unknown transport %q", c.Transport.Kind)
	}
	if c.Transport.Host == "" {
		c.Transport.Host = d.Transport.Host
	}
	if c.Transport.Port <= 0 || c.Transport.Port > 65535 {
		c.Transport.Port = d.Transport.Port
	}
	if c.Transport.InitialDelay <= 0 {
		c.Transport.InitialDelay = d.Transport.InitialDelay
	}
	if c.Transport.MaxDelay < c.Transport.InitialDelay {
		c.Transport.MaxDelay = c.Transport.InitialDelay
	}

	if c.Relay.ReauthInterval <= 0 {
		c.Relay.ReauthInterval = d.Relay.ReauthInterval
	}
	if c.Relay.UploadTimeout < 0 {
		c.Relay.UploadTimeout = 0
	}
	switch c.Relay.Policy {
	case "":
		c.Relay.Policy = d.Relay.Policy
	case PolicyCUE, PolicyNone:
	default:
		return fmt.Errorf("relay.policy: unknown policy %q", c.Relay.Policy)
	}

	switch c.Log.Format {
	case "":
		c.Log.Format = d.Log.Format
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// HasCredentials reports whether both halves of the login are set.
func (c *Config) HasCredentials() bool {
	return c.Transport.Public != "" && c.Transport.Private != ""
}
