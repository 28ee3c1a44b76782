package lifecycle

import (
	"strings"

	"github.com/plexsphere/plexsvc/internal/runstate"
	"github.com/plexsphere/plexsvc/internal/scope"
	"github.com/plexsphere/plexsvc/internal/unitfile"
)

// Definition is a service declared by an installed formula.
type Definition = unitfile.Definition

// idSeparatorSubstitute replaces '@', which systemd reads as the template
// instance separator.
const idSeparatorSubstitute = "AT"

// ServiceID derives the systemd unit name (without suffix) for def.
func ServiceID(def Definition) string {
	return strings.ReplaceAll(def.ID(), "@", idSeparatorSubstitute)
}

// Service is a point-in-time view of one service. It is derived on every
// status query; systemd and the filesystem remain authoritative.
type Service struct {
	Definition Definition
	ServiceID  string
	// User is the owning identity, nil when the snapshot reports no owner.
	User *scope.Identity
	// FilePath is the unit file, empty when none is installed.
	FilePath string
	State    runstate.State
}

// Name returns the formula name.
func (s Service) Name() string { return s.Definition.Name() }

// Installed reports whether a unit file exists.
func (s Service) Installed() bool { return s.FilePath != "" }

// Started reports whether the service is running.
func (s Service) Started() bool { return s.State == runstate.StateStarted }
