// Package scope models the invoking identity and the systemd manager
// instance (system-wide or per-user) that commands are sent to.
package scope

import (
	"errors"
	"fmt"
	"os/user"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/plexsphere/plexsvc/internal/runner"
)

// SystemUID is the identity owning system-wide services.
const SystemUID = 0

// RuntimeDirEnv tells systemctl --user where the user manager's bus lives.
const RuntimeDirEnv = "XDG_RUNTIME_DIR"

// Identity is a resolved user record.
type Identity struct {
	UID      int
	Username string
	HomeDir  string
}

// IsSystem reports whether the identity is root.
func (i Identity) IsSystem() bool { return i.UID == SystemUID }

// String returns the username, or the numeric id when it is unknown.
func (i Identity) String() string {
	if i.Username != "" {
		return i.Username
	}
	return strconv.Itoa(i.UID)
}

// Lookup resolves a numeric id to a full user record.
type Lookup func(uid int) (Identity, error)

// LookupUser resolves uid through the system user database.
func LookupUser(uid int) (Identity, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return Identity{}, fmt.Errorf("scope: lookup uid %d: %w", uid, err)
	}
	return Identity{UID: uid, Username: u.Username, HomeDir: u.HomeDir}, nil
}

// CurrentIdentity returns the effective identity of this process.
func CurrentIdentity(lookup Lookup) (Identity, error) {
	return lookup(unix.Geteuid())
}

// Context carries everything needed to address the right systemd instance
// on behalf of the invoking identity. It replaces ambient current-user
// lookups: construct it once and pass it down.
type Context struct {
	Invoker        Identity
	Systemctl      string
	RuntimeDirBase string
}

// Validate checks that required fields are set.
func (c Context) Validate() error {
	if c.Systemctl == "" {
		return errors.New("scope: context: Systemctl is required")
	}
	if !c.Invoker.IsSystem() && c.RuntimeDirBase == "" {
		return errors.New("scope: context: RuntimeDirBase is required for user scope")
	}
	return nil
}

// UserScope reports whether commands go to the per-user manager.
func (c Context) UserScope() bool { return !c.Invoker.IsSystem() }

// Env returns the environment override for commands in the invoker's scope.
// System-scope commands get none.
func (c Context) Env() map[string]string {
	if !c.UserScope() {
		return nil
	}
	return map[string]string{
		RuntimeDirEnv: filepath.Join(c.RuntimeDirBase, strconv.Itoa(c.Invoker.UID)),
	}
}

// Command assembles a systemctl command line in the invoker's scope.
func (c Context) Command(args ...string) (string, error) {
	words := []string{c.Systemctl}
	if c.UserScope() {
		words = append(words, "--user")
	}
	return runner.Join(append(words, args...)...)
}

// SystemCommand assembles a systemctl command line addressed to the
// system manager regardless of the invoker.
func (c Context) SystemCommand(args ...string) (string, error) {
	return runner.Join(append([]string{c.Systemctl}, args...)...)
}
