package lifecycle

import (
	"fmt"
	"strings"
)

// Action is a lifecycle transition.
type Action string

const (
	ActionInstall    Action = "install"
	ActionUninstall  Action = "uninstall"
	ActionRegister   Action = "register"
	ActionUnregister Action = "unregister"
	ActionStart      Action = "start"
	ActionStop       Action = "stop"
	ActionRestart    Action = "restart"
	// ActionRun is an alias of start: systemd has no unregistered run.
	ActionRun Action = "run"
)

var allActions = []Action{
	ActionInstall, ActionUninstall, ActionRegister, ActionUnregister,
	ActionStart, ActionStop, ActionRestart, ActionRun,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allActions {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("lifecycle: invalid action %q", s)
}

// guarded reports whether an action must be refused for services started
// by another identity.
func (a Action) guarded() bool {
	return a == ActionStop || a == ActionRestart || a == ActionUnregister
}

// Result is the outcome of one action on one service.
type Result struct {
	Definition Definition
	Action     Action
	// Warnings are non-fatal problems, such as ignored config keys.
	Warnings []error
	// Refused is set (and nothing was done) when the service belongs to
	// another identity.
	Refused error
	Err     error
}

// OK reports whether the action was carried out without error.
func (r Result) OK() bool { return r.Err == nil && r.Refused == nil }

// Perform applies action to def.
func (d *Driver) Perform(action Action, def Definition) Result {
	res := Result{Definition: def, Action: action}

	if action.guarded() {
		svc, err := d.Status(def)
		if err != nil {
			res.Err = err
			return res
		}
		if svc.User != nil && svc.User.UID != d.ctx.Invoker.UID {
			res.Refused = &OwnershipError{Service: def.Name(), Action: action, Owner: *svc.User, Invoker: d.ctx.Invoker}
			d.logger.Warn("action refused", "service", def.Name(), "action", action, "owner", svc.User.String())
			return res
		}
	}

	var err error
	switch action {
	case ActionInstall:
		err = d.install(def, &res)
	case ActionUninstall:
		err = d.uninstall(def)
	case ActionRegister:
		err = d.register(def, &res)
	case ActionUnregister:
		err = d.unregister(def, &res)
	case ActionStart, ActionRun:
		err = d.start(def, &res)
	case ActionStop:
		err = d.stop(def)
	case ActionRestart:
		err = d.restart(def, &res)
	default:
		err = fmt.Errorf("invalid action %q", action)
	}
	if err != nil {
		res.Err = fmt.Errorf("lifecycle: %s %s: %w", action, def.Name(), err)
		d.logger.Error("action failed", "service", def.Name(), "action", action, "error", err)
	}
	return res
}

// PerformAll applies action to every definition in order. A failure on one
// service never prevents attempts on the others.
func (d *Driver) PerformAll(action Action, defs []Definition) []Result {
	results := make([]Result, 0, len(defs))
	for _, def := range defs {
		results = append(results, d.Perform(action, def))
	}
	return results
}

// StatusResult pairs a service handle with the error that prevented it.
type StatusResult struct {
	Definition Definition
	Service    Service
	Err        error
}

// StatusAll resolves every definition against a single snapshot.
func (d *Driver) StatusAll(defs []Definition) []StatusResult {
	results := make([]StatusResult, 0, len(defs))
	for _, def := range defs {
		svc, err := d.Status(def)
		results = append(results, StatusResult{Definition: def, Service: svc, Err: err})
	}
	return results
}

// Cleanup uninstalls unit files of services that are not started and
// returns one Result per service it touched.
func (d *Driver) Cleanup(defs []Definition) []Result {
	var results []Result
	for _, def := range defs {
		svc, err := d.Status(def)
		if err != nil {
			results = append(results, Result{Definition: def, Action: ActionUninstall, Err: err})
			continue
		}
		if svc.Started() || !svc.Installed() {
			continue
		}
		// Only the invoker's own unit directory is ours to clean.
		if svc.FilePath != d.UnitPath(def, d.ctx.Invoker) {
			continue
		}
		results = append(results, d.Perform(ActionUninstall, def))
	}
	return results
}
