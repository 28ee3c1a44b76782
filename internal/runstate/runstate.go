// Package runstate reconstructs the live state of services by parsing
// systemctl output. The output format is not a stable contract, so every
// parser lives behind the Snapshotter interface.
package runstate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/plexsphere/plexsvc/internal/runner"
	"github.com/plexsphere/plexsvc/internal/scope"
)

// State is the observed run state of a service.
type State string

const (
	StateStarted State = "started"
	StateStopped State = "stopped"
	StateError   State = "error"
	StateUnknown State = "unknown"
)

// Info is the snapshot entry for one service.
type Info struct {
	State State
	// UID is the owning identity. It is meaningful only when Owned is set.
	UID   int
	Owned bool
}

// Snapshotter resolves run state from a memoized snapshot.
type Snapshotter interface {
	// RunInfo returns the state of serviceID. The first call after
	// construction or Reset takes a new snapshot; later calls reuse it.
	RunInfo(serviceID string) (Info, error)
	// Reset discards the cached snapshot.
	Reset()
}

// Strategy names.
const (
	StrategyStandard     = "standard"
	StrategyExperimental = "experimental"
)

// Config selects the snapshot strategy.
type Config struct {
	// Strategy is "experimental" (default) or "standard".
	Strategy string `yaml:"strategy" toml:"strategy"`
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyExperimental
	}
}

// Validate checks that the strategy is known.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyStandard, StrategyExperimental:
		return nil
	case "":
		return errors.New("runstate: config: Strategy is required")
	default:
		return fmt.Errorf("runstate: config: invalid strategy %q (must be %q or %q)", c.Strategy, StrategyStandard, StrategyExperimental)
	}
}

// New returns the Snapshotter selected by cfg.
func New(cfg Config, ctx scope.Context, r runner.Runner, logger *slog.Logger) (Snapshotter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Strategy == StrategyStandard {
		return NewStandard(ctx, r, logger), nil
	}
	return NewExperimental(ctx, r, logger), nil
}

// cache memoizes one snapshot until reset.
type cache struct {
	entries map[string]Info
	valid   bool
}

func (c *cache) get(load func() (map[string]Info, error)) (map[string]Info, error) {
	if c.valid {
		return c.entries, nil
	}
	entries, err := load()
	if err != nil {
		return nil, err
	}
	c.entries = entries
	c.valid = true
	return entries, nil
}

func (c *cache) reset() {
	c.entries = nil
	c.valid = false
}
