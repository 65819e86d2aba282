package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/cachescope/errors"
	"github.com/c360/cachescope/pkg/tlsutil"
)

// Storage backend names
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendSealed = "sealed"
)

// Duration is a time.Duration written as a string in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDurationWithDays(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// parseDurationWithDays parses durations that may be given in days ("14d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// LogConfig selects the root logger.
type LogConfig struct {
	Level  string `json:"level"  yaml:"level"  env:"LEVEL"`
	Format string `json:"format" yaml:"format" env:"FORMAT"`
}

func (c LogConfig) validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "must be debug, info, warn or error")
	}
	switch c.Format {
	case "json", "text":
	default:
		return invalid("log.format", "must be json or text")
	}
	return nil
}

// AgentConfig configures a device agent.
type AgentConfig struct {
	Inspector   InspectorConfig `json:"inspector"    yaml:"inspector"    envPrefix:"INSPECTOR_"`
	Device      DeviceConfig    `json:"device"       yaml:"device"       envPrefix:"DEVICE_"`
	Sync        SyncConfig      `json:"sync"         yaml:"sync"         envPrefix:"SYNC_"`
	Storage     []StorageConfig `json:"storage"      yaml:"storage"`
	Log         LogConfig       `json:"log"          yaml:"log"          envPrefix:"LOG_"`
	MetricsAddr string          `json:"metrics_addr" yaml:"metrics_addr" env:"METRICS_ADDR"`
	Debug       bool            `json:"debug"        yaml:"debug"        env:"DEBUG"`
}

// InspectorConfig locates the inspector hub.
type InspectorConfig struct {
	URL              string   `json:"url"               yaml:"url"               env:"URL"`
	Codec            string   `json:"codec"             yaml:"codec"             env:"CODEC"`
	HandshakeTimeout Duration `json:"handshake_timeout" yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	ReconnectInitial Duration `json:"reconnect_initial" yaml:"reconnect_initial" env:"RECONNECT_INITIAL"`
	ReconnectMax     Duration `json:"reconnect_max"     yaml:"reconnect_max"     env:"RECONNECT_MAX"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls" envPrefix:"TLS_"`
}

// DeviceConfig describes the device. Empty fields are derived at startup.
type DeviceConfig struct {
	Name      string            `json:"name"       yaml:"name"       env:"NAME"`
	ID        string            `json:"id"         yaml:"id"         env:"ID"`
	IDFile    string            `json:"id_file"    yaml:"id_file"    env:"ID_FILE"`
	Platform  string            `json:"platform"   yaml:"platform"   env:"PLATFORM"`
	ExtraInfo map[string]string `json:"extra_info" yaml:"extra_info" env:"EXTRA_INFO"`
	EnvPrefix string            `json:"env_prefix" yaml:"env_prefix" env:"ENV_PREFIX"`
}

// SyncConfig tunes change detection and command handling.
type SyncConfig struct {
	Mode        string   `json:"mode"         yaml:"mode"         env:"MODE"`
	TailTimeout Duration `json:"tail_timeout" yaml:"tail_timeout" env:"TAIL_TIMEOUT"`
}

// StorageConfig mirrors one storage namespace.
type StorageConfig struct {
	// Namespace is mmkv, async or secure.
	Namespace string `json:"namespace" yaml:"namespace"`
	// Backend is memory, sqlite, redis, nats or sealed.
	Backend string `json:"backend" yaml:"backend"`

	Path         string   `json:"path,omitempty"          yaml:"path,omitempty"`
	URL          string   `json:"url,omitempty"           yaml:"url,omitempty"`
	Bucket       string   `json:"bucket,omitempty"        yaml:"bucket,omitempty"`
	Prefix       string   `json:"prefix,omitempty"        yaml:"prefix,omitempty"`
	IdentityFile string   `json:"identity_file,omitempty" yaml:"identity_file,omitempty"`
	PollInterval Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	// Token and ReconnectWait apply to the nats backend.
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	// Keys lists the keys mirrored from the secure namespace.
	Keys []string `json:"keys,omitempty" yaml:"keys,omitempty"`
}

// DefaultAgentConfig returns the agent defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Inspector: InspectorConfig{
			URL:              "ws://localhost:42831/",
			Codec:            "json",
			HandshakeTimeout: Duration(10 * time.Second),
			ReconnectInitial: Duration(time.Second),
			ReconnectMax:     Duration(30 * time.Second),
		},
		Device: DeviceConfig{
			IDFile:    ".cachescope-device-id",
			EnvPrefix: "CACHESCOPE_PUBLIC_",
		},
		Sync: SyncConfig{
			Mode:        "unconditional",
			TailTimeout: Duration(2 * time.Minute),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	u, err := url.Parse(c.Inspector.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return invalid("inspector.url", "must be a ws:// or wss:// URL")
	}
	switch c.Inspector.Codec {
	case "json", "cbor":
	default:
		return invalid("inspector.codec", "must be json or cbor")
	}
	if !tlsutil.ValidVersion(c.Inspector.TLS.MinVersion) {
		return invalid("inspector.tls.min_version", "must be 1.2 or 1.3")
	}
	if (c.Inspector.TLS.CertFile == "") != (c.Inspector.TLS.KeyFile == "") {
		return invalid("inspector.tls.cert_file", "cert_file and key_file must be set together")
	}
	if c.Inspector.ReconnectInitial <= 0 || c.Inspector.ReconnectMax < c.Inspector.ReconnectInitial {
		return invalid("inspector.reconnect_max", "must be at least reconnect_initial, which must be positive")
	}
	if c.Device.ID == "" && c.Device.IDFile == "" {
		return invalid("device.id_file", "required when device.id is empty")
	}
	switch c.Sync.Mode {
	case "unconditional", "strict":
	default:
		return invalid("sync.mode", "must be unconditional or strict")
	}
	if err := c.Log.validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Storage))
	for i, s := range c.Storage {
		if seen[s.Namespace] {
			return invalid(fmt.Sprintf("storage[%d].namespace", i), "duplicate namespace "+s.Namespace)
		}
		seen[s.Namespace] = true
		if err := s.validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (s StorageConfig) validate(i int) error {
	field := func(name string) string { return fmt.Sprintf("storage[%d].%s", i, name) }

	switch s.Namespace {
	case "mmkv", "async", "secure":
	default:
		return invalid(field("namespace"), "must be mmkv, async or secure")
	}

	switch s.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.Path == "" {
			return invalid(field("path"), "required for sqlite")
		}
	case BackendRedis:
		if s.URL == "" {
			return invalid(field("url"), "required for redis")
		}
	case BackendNATS:
		if s.URL == "" || s.Bucket == "" {
			return invalid(field("url"), "url and bucket are required for nats")
		}
	case BackendSealed:
		if s.Path == "" || s.IdentityFile == "" {
			return invalid(field("path"), "path and identity_file are required for sealed")
		}
		if s.Namespace == "async" {
			return invalid(field("backend"), "sealed storage cannot enumerate keys for the async namespace")
		}
	default:
		return invalid(field("backend"), "must be memory, sqlite, redis, nats or sealed")
	}

	if s.Namespace == "secure" && len(s.Keys) == 0 {
		return invalid(field("keys"), "the secure namespace needs its key list")
	}
	if s.PollInterval < 0 {
		return invalid(field("poll_interval"), "must not be negative")
	}
	if s.ReconnectWait < 0 {
		return invalid(field("reconnect_wait"), "must not be negative")
	}
	return nil
}

// HubConfig configures the inspector hub.
type HubConfig struct {
	Addr            string    `json:"addr"             yaml:"addr"             env:"ADDR"`
	Path            string    `json:"path"             yaml:"path"             env:"PATH"`
	MetricsAddr     string    `json:"metrics_addr"     yaml:"metrics_addr"     env:"METRICS_ADDR"`
	PingInterval    Duration  `json:"ping_interval"    yaml:"ping_interval"    env:"PING_INTERVAL"`
	WriteTimeout    Duration  `json:"write_timeout"    yaml:"write_timeout"    env:"WRITE_TIMEOUT"`
	CommandRate     float64   `json:"command_rate"     yaml:"command_rate"     env:"COMMAND_RATE"`
	CommandBurst    int       `json:"command_burst"    yaml:"command_burst"    env:"COMMAND_BURST"`
	ShutdownTimeout Duration  `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	Log             LogConfig `json:"log"              yaml:"log"              envPrefix:"LOG_"`
	Debug           bool      `json:"debug"            yaml:"debug"            env:"DEBUG"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls" envPrefix:"TLS_"`
}

// DefaultHubConfig returns the hub defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		Addr:            ":42831",
		Path:            "/",
		PingInterval:    Duration(30 * time.Second),
		WriteTimeout:    Duration(10 * time.Second),
		CommandRate:     20,
		CommandBurst:    40,
		ShutdownTimeout: Duration(5 * time.Second),
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks the hub configuration.
func (c *HubConfig) Validate() error {
	if c.Addr == "" {
		return invalid("addr", "is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return invalid("path", "must start with /")
	}
	if c.PingInterval < 0 {
		return invalid("ping_interval", "must not be negative")
	}
	if c.WriteTimeout <= 0 {
		return invalid("write_timeout", "must be positive")
	}
	if c.CommandRate <= 0 || c.CommandBurst <= 0 {
		return invalid("command_rate", "rate and burst must be positive")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return invalid("tls.cert_file", "cert_file and key_file are required when tls is enabled")
	}
	if !tlsutil.ValidVersion(c.TLS.MinVersion) {
		return invalid("tls.min_version", "must be 1.2 or 1.3")
	}
	return c.Log.validate()
}

func invalid(field, problem string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s %s", errors.ErrInvalidConfig, field, problem),
		"config", "Validate", "check "+field)
}
