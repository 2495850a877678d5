package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbocsi/e4stream/client"
)

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Relay     RelayConfig     `yaml:"relay"`
	MCP       MCPConfig       `yaml:"mcp"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

type DeviceConfig struct {
	ID            string   `yaml:"id"`
	Subscriptions []string `yaml:"subscriptions"`
}

type ServerConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	BufferSize int           `yaml:"buffer_size"`
	Timeout    time.Duration `yaml:"timeout"`
	// Discover looks the server up over mDNS instead of using host and port.
	Discover        bool          `yaml:"discover"`
	DiscoverService string        `yaml:"discover_service"`
	DiscoverTimeout time.Duration `yaml:"discover_timeout"`
}

type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       bool          `yaml:"jitter"`
	MaxAttempts  int           `yaml:"max_attempts"` // 0 retries forever
}

type RelayConfig struct {
	Addr       string `yaml:"addr"` // empty disables the relay
	MaxClients int    `yaml:"max_clients"`
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns a configuration with every default applied and no device set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := client.DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = def.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Port
	}
	if c.Server.BufferSize == 0 {
		c.Server.BufferSize = def.BufferSize
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = def.Timeout
	}
	if c.Server.DiscoverService == "" {
		c.Server.DiscoverService = client.DefaultServiceType
	}
	if c.Server.DiscoverTimeout == 0 {
		c.Server.DiscoverTimeout = 5 * time.Second
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = 500 * time.Millisecond
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = 2.0
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = 30 * time.Second
	}
	if c.Relay.MaxClients == 0 {
		c.Relay.MaxClients = 16
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the settings a session cannot run without. Call it after flag overrides.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Device.ID) == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	for i, code := range c.Device.Subscriptions {
		if strings.TrimSpace(code) == "" || strings.ContainsAny(code, " \t\r\n") {
			errs = append(errs, fmt.Errorf("device.subscriptions[%d] %q is not a stream code", i, code))
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.BufferSize <= 0 {
		errs = append(errs, errors.New("server.buffer_size must be positive"))
	}
	if c.Server.Timeout < 0 {
		errs = append(errs, errors.New("server.timeout must not be negative"))
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect.multiplier must be at least 1"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Session maps the device and server sections onto a session configuration.
func (c *Config) Session() client.Config {
	return client.Config{
		DeviceID:      c.Device.ID,
		Subscriptions: c.Device.Subscriptions,
		Host:          c.Server.Host,
		Port:          c.Server.Port,
		BufferSize:    c.Server.BufferSize,
		Timeout:       c.Server.Timeout,
	}
}

// NewLogger builds the process logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", raw)
	}
}
