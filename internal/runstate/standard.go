package runstate

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"

	"github.com/plexsphere/plexsvc/internal/runner"
	"github.com/plexsphere/plexsvc/internal/scope"
)

const serviceSuffix = ".service"

var listUnitsArgs = []string{"list-units", "--all", "--no-legend", "--no-pager", "--plain", "--type=service"}

// Standard snapshots state with list-units queries against the user and
// system managers. System entries replace user entries of the same name.
type Standard struct {
	ctx    scope.Context
	runner runner.Runner
	logger *slog.Logger
	cache  cache
}

// NewStandard returns a list-units based Snapshotter.
func NewStandard(ctx scope.Context, r runner.Runner, logger *slog.Logger) *Standard {
	return &Standard{
		ctx:    ctx,
		runner: r,
		logger: logger.With("component", "runstate", "strategy", StrategyStandard),
	}
}

// RunInfo implements Snapshotter. Services absent from both listings are
// reported as stopped without an owner.
func (s *Standard) RunInfo(serviceID string) (Info, error) {
	entries, err := s.cache.get(s.load)
	if err != nil {
		return Info{}, err
	}
	if info, ok := entries[serviceID]; ok {
		return info, nil
	}
	return Info{State: StateStopped}, nil
}

// Reset implements Snapshotter.
func (s *Standard) Reset() { s.cache.reset() }

func (s *Standard) load() (map[string]Info, error) {
	entries := make(map[string]Info)

	// root has no user manager to ask.
	if s.ctx.UserScope() {
		line, err := s.ctx.Command(listUnitsArgs...)
		if err != nil {
			return nil, err
		}
		out, err := s.runner.Run(line, s.ctx.Env())
		if err != nil {
			return nil, fmt.Errorf("runstate: list user units: %w", err)
		}
		for id, info := range ParseListUnits(out, s.ctx.Invoker.UID) {
			entries[id] = info
		}
	}

	line, err := s.ctx.SystemCommand(listUnitsArgs...)
	if err != nil {
		return nil, err
	}
	out, err := s.runner.Run(line, nil)
	if err != nil {
		return nil, fmt.Errorf("runstate: list system units: %w", err)
	}
	for id, info := range ParseListUnits(out, scope.SystemUID) {
		entries[id] = info
	}

	s.logger.Debug("snapshot taken", "services", len(entries))
	return entries, nil
}

// ParseListUnits parses list-units output lines of the form
// "UNIT LOAD ACTIVE SUB DESCRIPTION..." attributing each service to uid.
func ParseListUnits(out string, uid int) map[string]Info {
	entries := make(map[string]Info)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// Failed units are prefixed with a status bullet.
		if len(fields) > 0 && (fields[0] == "●" || fields[0] == "*") {
			fields = fields[1:]
		}
		if len(fields) < 4 || !strings.HasSuffix(fields[0], serviceSuffix) {
			continue
		}
		id := strings.TrimSuffix(fields[0], serviceSuffix)
		entries[id] = Info{
			State: classify(fields[1], fields[3]),
			UID:   uid,
			Owned: true,
		}
	}
	return entries
}

func classify(loadState, subState string) State {
	if loadState == "not-found" {
		return StateUnknown
	}
	switch subState {
	case "running":
		return StateStarted
	case "failed":
		return StateError
	case "exited":
		return StateStopped
	default:
		return StateUnknown
	}
}
