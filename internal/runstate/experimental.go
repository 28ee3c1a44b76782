package runstate

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/plexsphere/plexsvc/internal/runner"
	"github.com/plexsphere/plexsvc/internal/scope"
)

// ErrScopeMarkerMissing means a service line appeared before any slice
// marker, i.e. the status output no longer has the expected shape.
var ErrScopeMarkerMissing = errors.New("runstate: service listed before any scope marker")

const systemSlice = "system.slice"

var userSliceRE = regexp.MustCompile(`^user-(\d+)\.slice$`)

// treeChars are the cgroup tree drawing characters systemctl prefixes.
const treeChars = " \t│├└─|`-*●"

// Experimental snapshots state with a single status query, walking its
// cgroup tree. Every listed service is started; anything else is stopped.
// It cannot report error or unknown.
type Experimental struct {
	ctx    scope.Context
	runner runner.Runner
	logger *slog.Logger
	cache  cache
}

// NewExperimental returns a status-tree based Snapshotter.
func NewExperimental(ctx scope.Context, r runner.Runner, logger *slog.Logger) *Experimental {
	return &Experimental{
		ctx:    ctx,
		runner: r,
		logger: logger.With("component", "runstate", "strategy", StrategyExperimental),
	}
}

// RunInfo implements Snapshotter.
func (e *Experimental) RunInfo(serviceID string) (Info, error) {
	entries, err := e.cache.get(e.load)
	if err != nil {
		return Info{}, err
	}
	if info, ok := entries[serviceID]; ok {
		return info, nil
	}
	return Info{State: StateStopped}, nil
}

// Reset implements Snapshotter.
func (e *Experimental) Reset() { e.cache.reset() }

func (e *Experimental) load() (map[string]Info, error) {
	line, err := e.ctx.SystemCommand("status", "--no-pager")
	if err != nil {
		return nil, err
	}
	out, err := e.runner.Run(line, nil)
	if err != nil {
		return nil, fmt.Errorf("runstate: status: %w", err)
	}
	entries, err := ParseStatusTree(out)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("snapshot taken", "services", len(entries))
	return entries, nil
}

// ParseStatusTree scans status output, tracking the owning identity of the
// slice each service sits under.
func ParseStatusTree(out string) (map[string]Info, error) {
	entries := make(map[string]Info)
	owner := -1
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(strings.TrimLeft(sc.Text(), treeChars))
		if len(fields) == 0 {
			continue
		}
		token := fields[0]
		switch {
		case token == systemSlice:
			owner = scope.SystemUID
		case userSliceRE.MatchString(token):
			uid, err := strconv.Atoi(userSliceRE.FindStringSubmatch(token)[1])
			if err != nil {
				return nil, fmt.Errorf("runstate: parse %q: %w", token, err)
			}
			owner = uid
		case strings.HasSuffix(token, serviceSuffix) && len(token) > len(serviceSuffix):
			if owner < 0 {
				return nil, fmt.Errorf("%w: %q", ErrScopeMarkerMissing, sc.Text())
			}
			entries[strings.TrimSuffix(token, serviceSuffix)] = Info{State: StateStarted, UID: owner, Owned: true}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("runstate: scan status: %w", err)
	}
	return entries, nil
}
