package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/plexsphere/plexsvc/internal/config"
	"github.com/plexsphere/plexsvc/internal/formula"
	"github.com/plexsphere/plexsvc/internal/lifecycle"
	"github.com/plexsphere/plexsvc/internal/runner"
	"github.com/plexsphere/plexsvc/internal/runstate"
	"github.com/plexsphere/plexsvc/internal/scope"
)

// environment is everything a service command needs.
type environment struct {
	catalog *formula.Catalog
	driver  *lifecycle.Driver
	logger  *slog.Logger
}

// newEnvironment is replaced in tests.
var newEnvironment = loadEnvironment

func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	// 1. Parse config and apply CLI flag overrides.
	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if catalogPath != "" {
		cfg.Catalog = catalogPath
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 2. Set up structured logger.
	logger := setupLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	// 3. Load the formula catalog.
	catalog, err := formula.LoadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	// 4. Resolve the invoking identity and its systemctl scope.
	invoker, err := scope.CurrentIdentity(scope.LookupUser)
	if err != nil {
		return nil, err
	}
	sctx := scope.Context{
		Invoker:        invoker,
		Systemctl:      cfg.Lifecycle.Systemctl,
		RuntimeDirBase: cfg.Lifecycle.RuntimeDirBase,
	}
	if err := sctx.Validate(); err != nil {
		return nil, err
	}

	// 5. Wire runner, snapshotter and driver.
	r := runner.New(logger, cfg.Verbose)
	snap, err := runstate.New(cfg.RunState, sctx, r, logger)
	if err != nil {
		return nil, fmt.Errorf("create snapshotter: %w", err)
	}
	driver := lifecycle.NewDriver(cfg.Lifecycle, sctx, r, snap, scope.LookupUser, logger)

	logger.Debug("environment ready",
		"invoker", invoker.String(),
		"strategy", cfg.RunState.Strategy,
		"catalog", cfg.Catalog,
	)
	return &environment{catalog: catalog, driver: driver, logger: logger}, nil
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func definitions(formulae []*formula.Formula) []lifecycle.Definition {
	defs := make([]lifecycle.Definition, len(formulae))
	for i, f := range formulae {
		defs[i] = f
	}
	return defs
}
