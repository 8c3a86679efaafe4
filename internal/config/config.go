package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Session  SessionConfig `yaml:"session"`
	Daemon   DaemonConfig  `yaml:"daemon"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig selects which accessory to manage.
type DeviceConfig struct {
	// Address pins the daemon to one accessory (AA:BB:CC:DD:EE:FF).
	// Empty means manage whichever Apple accessory connects first.
	Address string `yaml:"address"`
	Adapter string `yaml:"adapter"`
}

// SessionConfig holds protocol timing knobs.
type SessionConfig struct {
	HandshakeTimeout Duration `yaml:"handshake_timeout"`
	AckTimeout       Duration `yaml:"ack_timeout"`
}

// DaemonConfig holds the control surface settings.
type DaemonConfig struct {
	SocketPath string `yaml:"socket_path"`
	Reconnect  bool   `yaml:"reconnect"`
}

// Duration is a yaml-parseable time.Duration ("5s", "250ms").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "aacpctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultSocketPath returns the default control socket path, preferring the
// user runtime directory.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "aacpctl.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("aacpctl-%d.sock", os.Getuid()))
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Adapter: "hci0",
		},
		Session: SessionConfig{
			HandshakeTimeout: Duration(5 * time.Second),
			AckTimeout:       Duration(2 * time.Second),
		},
		Daemon: DaemonConfig{
			SocketPath: DefaultSocketPath(),
			Reconnect:  true,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Daemon.SocketPath = expandTilde(cfg.Daemon.SocketPath)

	return cfg, nil
}

// LoadOrDefault loads the config file if it exists, otherwise falls back to
// the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Address != "" && !validAddress(c.Device.Address) {
		return fmt.Errorf("device.address %q is not a Bluetooth address", c.Device.Address)
	}

	if c.Device.Adapter == "" {
		return fmt.Errorf("device.adapter must not be empty")
	}

	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session.handshake_timeout must be > 0")
	}

	if c.Session.AckTimeout <= 0 {
		return fmt.Errorf("session.ack_timeout must be > 0")
	}

	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon.socket_path must not be empty")
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "none":
	default:
		return fmt.Errorf("log_level must be trace, debug, info, warn, error, or none, got %q", c.LogLevel)
	}

	return nil
}

// validAddress accepts the colon-separated form BlueZ uses.
func validAddress(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 {
			return false
		}
		for _, r := range p {
			switch {
			case r >= '0' && r <= '9':
			case r >= 'a' && r <= 'f':
			case r >= 'A' && r <= 'F':
			default:
				return false
			}
		}
	}
	return true
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
