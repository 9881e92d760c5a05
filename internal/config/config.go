// Package config provides configuration parsing and validation for the relay.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration.
type Config struct {
	Relay  RelayConfig  `yaml:"relay"`
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Health HealthConfig `yaml:"health"`
}

// RelayConfig contains socket and queue settings shared by both peers.
type RelayConfig struct {
	BufferSize    int    `yaml:"buffer_size"`    // receive buffer in bytes
	QueueCapacity int    `yaml:"queue_capacity"` // 0 = unbounded
	ReadBuffer    string `yaml:"read_buffer"`    // kernel SO_RCVBUF, e.g. "4MiB"
	WriteBuffer   string `yaml:"write_buffer"`   // kernel SO_SNDBUF, e.g. "1MB"
	TTL           int    `yaml:"ttl"`            // IPv4 TTL / IPv6 hop limit, 0 = OS default
	TOS           int    `yaml:"tos"`            // IPv4 TOS / IPv6 traffic class, 0 = OS default
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn (or warning), error
	Format string `yaml:"format"` // text, json, auto
}

// ServerConfig configures the replying server peer.
type ServerConfig struct {
	Bind  string        `yaml:"bind"` // ip:port to listen on
	Reply string        `yaml:"reply"`
	Tick  time.Duration `yaml:"tick"`
}

// ClientConfig configures the sending client peer.
type ClientConfig struct {
	Bind    string        `yaml:"bind"` // usually port 0
	Target  string        `yaml:"target"`
	Payload string        `yaml:"payload"`
	Tick    time.Duration `yaml:"tick"`
	Rate    float64       `yaml:"rate"` // max messages per second, 0 = one per tick
}

// HealthConfig configures the HTTP health and metrics endpoint.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultServerBind is the listen address of the server peer.
const DefaultServerBind = "127.0.0.1:34243"

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			BufferSize: 2000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Bind:  DefaultServerBind,
			Reply: "reply!",
			Tick:  16 * time.Millisecond,
		},
		Client: ClientConfig{
			Bind:    "127.0.0.1:0",
			Target:  DefaultServerBind,
			Payload: "message!",
			Tick:    16 * time.Millisecond,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR}, ${VAR:-default} and $VAR references.
// Unknown variables without a default are left untouched.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1:]
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		}

		if varName, defaultVal, ok := strings.Cut(name, ":-"); ok {
			if val, found := os.LookupEnv(varName); found {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Relay.BufferSize < 1 || c.Relay.BufferSize > 65535 {
		errs = append(errs, "relay.buffer_size must be between 1 and 65535")
	}
	if c.Relay.QueueCapacity < 0 {
		errs = append(errs, "relay.queue_capacity must not be negative")
	}
	if _, err := parseSize(c.Relay.ReadBuffer); err != nil {
		errs = append(errs, fmt.Sprintf("relay.read_buffer: %v", err))
	}
	if _, err := parseSize(c.Relay.WriteBuffer); err != nil {
		errs = append(errs, fmt.Sprintf("relay.write_buffer: %v", err))
	}
	if c.Relay.TTL < 0 || c.Relay.TTL > 255 {
		errs = append(errs, "relay.ttl must be between 0 and 255")
	}
	if c.Relay.TOS < 0 || c.Relay.TOS > 255 {
		errs = append(errs, "relay.tos must be between 0 and 255")
	}

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text, json, or auto)", c.Log.Format))
	}

	if _, err := netip.ParseAddrPort(c.Server.Bind); err != nil {
		errs = append(errs, fmt.Sprintf("server.bind: invalid address %q", c.Server.Bind))
	}
	if c.Server.Tick <= 0 {
		errs = append(errs, "server.tick must be positive")
	}

	if _, err := netip.ParseAddrPort(c.Client.Bind); err != nil {
		errs = append(errs, fmt.Sprintf("client.bind: invalid address %q", c.Client.Bind))
	}
	if _, err := netip.ParseAddrPort(c.Client.Target); err != nil {
		errs = append(errs, fmt.Sprintf("client.target: invalid address %q", c.Client.Target))
	}
	if c.Client.Tick <= 0 {
		errs = append(errs, "client.tick must be positive")
	}
	if c.Client.Rate < 0 {
		errs = append(errs, "client.rate must not be negative")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ReadBufferBytes returns relay.read_buffer in bytes, 0 when unset.
func (r RelayConfig) ReadBufferBytes() int {
	n, _ := parseSize(r.ReadBuffer)
	return n
}

// WriteBufferBytes returns relay.write_buffer in bytes, 0 when unset.
func (r RelayConfig) WriteBufferBytes() int {
	n, _ := parseSize(r.WriteBuffer)
	return n
}

// parseSize parses a human-readable size such as "4MiB" or "65536".
// An empty string means 0.
func parseSize(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	size, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if size > 1<<30 {
		return 0, fmt.Errorf("size %q exceeds 1GiB", s)
	}
	return int(size), nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json", "auto":
		return true
	default:
		return false
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
