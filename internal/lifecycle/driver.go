// Package lifecycle drives formula services through install, register,
// start, stop and uninstall using systemctl, and reports their state.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/plexsphere/plexsvc/internal/fsutil"
	"github.com/plexsphere/plexsvc/internal/runner"
	"github.com/plexsphere/plexsvc/internal/runstate"
	"github.com/plexsphere/plexsvc/internal/scope"
	"github.com/plexsphere/plexsvc/internal/unitfile"
)

const unitSuffix = ".service"

// Driver performs lifecycle transitions for the invoking identity.
// It is not safe for concurrent use.
type Driver struct {
	cfg        Config
	ctx        scope.Context
	runner     runner.Runner
	snap       runstate.Snapshotter
	translator *unitfile.Translator
	lookup     scope.Lookup
	logger     *slog.Logger

	// writeFile is swapped in tests to observe unit writes.
	writeFile func(path string, data []byte, perm os.FileMode) error
}

// NewDriver creates a Driver with defaults applied to cfg.
func NewDriver(cfg Config, ctx scope.Context, r runner.Runner, snap runstate.Snapshotter, lookup scope.Lookup, logger *slog.Logger) *Driver {
	cfg.ApplyDefaults()
	return &Driver{
		cfg:        cfg,
		ctx:        ctx,
		runner:     r,
		snap:       snap,
		translator: unitfile.NewTranslator(logger),
		lookup:     lookup,
		logger:     logger.With("component", "lifecycle"),
		writeFile:  fsutil.WriteFileAtomic,
	}
}

// Invoker returns the identity commands are issued as.
func (d *Driver) Invoker() scope.Identity { return d.ctx.Invoker }

// UnitPath resolves where def's unit file lives when owned by owner.
func (d *Driver) UnitPath(def Definition, owner scope.Identity) string {
	name := ServiceID(def) + unitSuffix
	if owner.IsSystem() {
		return filepath.Join(d.cfg.SystemUnitDir, name)
	}
	return filepath.Join(owner.HomeDir, d.cfg.UserUnitDir, name)
}

// Status resolves the current handle for def.
func (d *Driver) Status(def Definition) (Service, error) {
	id := ServiceID(def)
	info, err := d.snap.RunInfo(id)
	if err != nil {
		return Service{}, fmt.Errorf("lifecycle: status %s: %w", def.Name(), err)
	}

	svc := Service{Definition: def, ServiceID: id, State: info.State}
	owner := d.ctx.Invoker
	if info.Owned {
		owner, err = d.resolveOwner(info.UID)
		if err != nil {
			return Service{}, fmt.Errorf("lifecycle: status %s: %w", def.Name(), err)
		}
		svc.User = &owner
	}

	path := d.UnitPath(def, owner)
	exists, err := fsutil.Exists(path)
	if err != nil {
		return Service{}, fmt.Errorf("lifecycle: status %s: %w", def.Name(), err)
	}
	if exists {
		svc.FilePath = path
	}
	return svc, nil
}

func (d *Driver) resolveOwner(uid int) (scope.Identity, error) {
	if uid == d.ctx.Invoker.UID {
		return d.ctx.Invoker, nil
	}
	return d.lookup(uid)
}

// install writes def's unit file when absent and reloads the manager.
// A present file is never overwritten.
func (d *Driver) install(def Definition, res *Result) error {
	path := d.UnitPath(def, d.ctx.Invoker)
	exists, err := fsutil.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		tr, err := d.translator.Translate(def)
		if err != nil {
			return err
		}
		if w := tr.Warning(def.Name()); w != nil {
			res.Warnings = append(res.Warnings, w)
		}
		if err := d.writeFile(path, []byte(tr.Description.Serialize()), 0o644); err != nil {
			return err
		}
		d.logger.Info("unit file written", "service", def.Name(), "path", path)
	}
	return d.systemctl("daemon-reload")
}

func (d *Driver) uninstall(def Definition) error {
	path := d.UnitPath(def, d.ctx.Invoker)
	exists, err := fsutil.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		if err := fsutil.RemoveIfExists(path); err != nil {
			return err
		}
		d.logger.Info("unit file removed", "service", def.Name(), "path", path)
	}
	return d.systemctl("daemon-reload")
}

func (d *Driver) register(def Definition, res *Result) error {
	if err := d.install(def, res); err != nil {
		return err
	}
	return d.systemctl("enable", ServiceID(def))
}

// unregister disables def. A unit file created only so that disable has a
// target is removed again afterwards, whether or not disable succeeded.
func (d *Driver) unregister(def Definition, res *Result) (err error) {
	existed, err := fsutil.Exists(d.UnitPath(def, d.ctx.Invoker))
	if err != nil {
		return err
	}
	if err := d.install(def, res); err != nil {
		return err
	}
	if !existed {
		defer func() {
			err = errors.Join(err, d.uninstall(def))
		}()
	}
	return d.systemctl("disable", ServiceID(def))
}

func (d *Driver) start(def Definition, res *Result) error {
	if err := d.install(def, res); err != nil {
		return err
	}
	defer d.snap.Reset()
	return d.systemctl("start", ServiceID(def))
}

func (d *Driver) stop(def Definition) error {
	defer d.snap.Reset()
	return d.systemctl("stop", ServiceID(def))
}

func (d *Driver) restart(def Definition, res *Result) error {
	if err := d.install(def, res); err != nil {
		return err
	}
	defer d.snap.Reset()
	return d.systemctl("restart", ServiceID(def))
}

func (d *Driver) systemctl(args ...string) error {
	line, err := d.ctx.Command(args...)
	if err != nil {
		return err
	}
	_, err = d.runner.Run(line, d.ctx.Env())
	return err
}
