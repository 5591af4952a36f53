// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bus backends.
const (
	// BusWire talks to a live sequencer daemon over a unix socket.
	BusWire = "wire"

	// BusSim runs against an in-process simulated bus, optionally
	// driven by a scenario file.
	BusSim = "sim"
)

// Defaults.
const (
	DefaultClientName = "autopatchd"
	DefaultSocket     = "/run/seqd.sock"
	DefaultLogLevel   = "info"
)

// ErrInvalidConfig indicates a configuration that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the daemon configuration.
type Config struct {
	// ClientName is announced to the sequencer daemon and used as the
	// default mDNS instance name.
	ClientName string `yaml:"client_name,omitempty"`

	// Rules is the path to the connection rules file.
	Rules string `yaml:"rules,omitempty"`

	// Bus selects the backend: "wire" (default) or "sim".
	Bus string `yaml:"bus,omitempty"`

	// Socket is the sequencer daemon socket path. Wire bus only.
	Socket string `yaml:"socket,omitempty"`

	// Scenario is the path to a scenario file. Sim bus only.
	Scenario string `yaml:"scenario,omitempty"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level,omitempty"`

	// EventLog is the path of the binary decision log. Empty disables
	// decision logging.
	EventLog string `yaml:"event_log,omitempty"`

	// Console configures the line-based control console.
	Console ConsoleConfig `yaml:"console,omitempty"`

	// Announce configures mDNS announcement of the console.
	Announce AnnounceConfig `yaml:"announce,omitempty"`
}

// ConsoleConfig configures the control console listener.
type ConsoleConfig struct {
	// Listen is the TCP listen address (e.g. "127.0.0.1:4573").
	// Empty disables the console.
	Listen string `yaml:"listen,omitempty"`
}

// AnnounceConfig configures mDNS announcement of the console.
type AnnounceConfig struct {
	// Enabled turns announcement on. Requires a console listener.
	Enabled bool `yaml:"enabled,omitempty"`

	// Instance is the mDNS instance name. Defaults to the client name.
	Instance string `yaml:"instance,omitempty"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	cfg := Config{
		ClientName: DefaultClientName,
		Bus:        BusWire,
		Socket:     DefaultSocket,
		LogLevel:   DefaultLogLevel,
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file. Unset fields keep their defaults and
// the result is validated before it is returned.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML config bytes and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ClientName == "" {
		c.ClientName = DefaultClientName
	}
	if c.Bus == "" {
		c.Bus = BusWire
	}
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Announce.Instance == "" {
		c.Announce.Instance = c.ClientName
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Bus {
	case BusWire, BusSim:
	default:
		return fmt.Errorf("%w: unknown bus %q", ErrInvalidConfig, c.Bus)
	}
	if c.Bus == BusWire && c.Socket == "" {
		return fmt.Errorf("%w: wire bus needs a socket path", ErrInvalidConfig)
	}
	if c.Scenario != "" && c.Bus != BusSim {
		return fmt.Errorf("%w: scenario files only apply to the sim bus", ErrInvalidConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Announce.Enabled && c.Console.Listen == "" {
		return fmt.Errorf("%w: announce requires a console listener", ErrInvalidConfig)
	}
	return nil
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
