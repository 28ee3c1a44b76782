// Package config loads the plexsvc configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/plexsphere/plexsvc/internal/lifecycle"
	"github.com/plexsphere/plexsvc/internal/runstate"
)

const (
	// DefaultPath is the configuration file read when none is given.
	DefaultPath = "/etc/plexsvc/config.yaml"

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// DefaultCatalog is the default formula catalog.
	DefaultCatalog = "/etc/plexsvc/formulae.yaml"
)

// Environment variables that override file values.
const (
	EnvLogLevel = "PLEXSVC_LOG_LEVEL"
	EnvCatalog  = "PLEXSVC_CATALOG"
	EnvVerbose  = "PLEXSVC_VERBOSE"
)

// Config is the top-level plexsvc configuration.
type Config struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	// Default: "info"
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// Verbose echoes every executed command at info level.
	Verbose bool `yaml:"verbose" toml:"verbose"`

	// Catalog is the path of the formula catalog.
	// Default: /etc/plexsvc/formulae.yaml
	Catalog string `yaml:"catalog" toml:"catalog"`

	Lifecycle lifecycle.Config `yaml:"lifecycle" toml:"lifecycle"`
	RunState  runstate.Config  `yaml:"runstate" toml:"runstate"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Catalog == "" {
		c.Catalog = DefaultCatalog
	}
	c.Lifecycle.ApplyDefaults()
	c.RunState.ApplyDefaults()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	if c.Catalog == "" {
		return errors.New("config: catalog is required")
	}
	if err := c.Lifecycle.Validate(); err != nil {
		return err
	}
	return c.RunState.Validate()
}

// ApplyEnv overrides fields from the process environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv(EnvCatalog); v != "" {
		c.Catalog = v
	}
	if v := getenv(EnvVerbose); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvVerbose, err)
		}
		c.Verbose = b
	}
	return nil
}

// ParseConfig reads the configuration at path, applies environment
// overrides and defaults, and validates the result. Files ending in
// .toml are parsed as TOML, everything else as YAML. A missing file at
// DefaultPath yields the defaults.
func ParseConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := decode(path, data, &cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
