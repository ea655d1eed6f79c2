// Package config loads the application configuration.
// Order: defaults -> config file -> environment overrides -> validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"streamwatch/internal/api"
	"streamwatch/internal/directory"
	"streamwatch/internal/logging"
	"streamwatch/internal/monitor"
	natstransport "streamwatch/internal/transport/nats"
)

// Transport kinds.
const (
	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	Server    api.Config      `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`

	// Channels is the subscription directory: selectable channels grouped
	// by event-type id.
	Channels map[string][]directory.ChannelDescriptor `yaml:"channels"`

	Monitor monitor.Config `yaml:"monitor"`
	Logging logging.Config `yaml:"logging"`
}

// TransportConfig selects the event transport.
type TransportConfig struct {
	Kind   string               `yaml:"kind"` // nats or memory
	NATS   natstransport.Config `yaml:"nats"`
	Memory MemoryConfig         `yaml:"memory"`
}

// MemoryConfig configures the in-process transport used for standalone
// runs and development.
type MemoryConfig struct {
	// Channels provisioned at startup. Subscribing to anything else fails
	// the way an unknown provider channel would.
	Channels []string `yaml:"channels"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: api.DefaultConfig(),
		Transport: TransportConfig{
			Kind: TransportNATS,
			NATS: natstransport.DefaultConfig(),
		},
		Monitor: monitor.DefaultConfig(),
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the configuration from path. A missing file is not an error;
// defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	c.Server.ApplyDefaults()
	if c.Transport.Kind == "" {
		c.Transport.Kind = TransportNATS
	}
	c.Transport.NATS.ApplyDefaults()
	c.Monitor.ApplyDefaults()
	c.Logging.ApplyDefaults()
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STREAMWATCH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("STREAMWATCH_JWT_SECRET"); v != "" {
		c.Server.Auth.JWTSecret = v
	}
	if v := os.Getenv("STREAMWATCH_PASSWORD_HASH"); v != "" {
		c.Server.Auth.PasswordHash = v
	}
	if v := os.Getenv("STREAMWATCH_TRANSPORT"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("STREAMWATCH_NATS_URL"); v != "" {
		c.Transport.NATS.URL = v
	}
	if v := os.Getenv("STREAMWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportNATS, TransportMemory:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Server.Auth.Enabled {
		if c.Server.Auth.JWTSecret == "" {
			return fmt.Errorf("auth enabled but server.auth.jwt_secret is empty")
		}
		if c.Server.Auth.PasswordHash == "" {
			return fmt.Errorf("auth enabled but server.auth.password_hash is empty")
		}
	}
	return nil
}
