// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls log output.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Level == "" {
		c.Level = defaults.Level
	}
	if c.Format == "" {
		c.Format = defaults.Format
	}
}

// Initialize builds a logger from the configuration and installs it as the
// process default.
func Initialize(cfg Config) *slog.Logger {
	logger := New(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

// New creates a logger writing to w.
func New(cfg Config, w io.Writer) *slog.Logger {
	cfg.ApplyDefaults()
	return slog.New(newHandler(w, cfg.Format, ParseLevel(cfg.Level)))
}

// ParseLevel maps a level name to a slog.Level. Unknown names fall back to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
