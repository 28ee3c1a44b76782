package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plexsphere/plexsvc/internal/lifecycle"
)

var actionHelp = map[lifecycle.Action]string{
	lifecycle.ActionInstall:    "Write the unit file of services without starting them",
	lifecycle.ActionUninstall:  "Remove the unit file of services",
	lifecycle.ActionRegister:   "Enable services to start at login or boot",
	lifecycle.ActionUnregister: "Disable services from starting at login or boot",
	lifecycle.ActionStart:      "Start services",
	lifecycle.ActionStop:       "Stop services",
	lifecycle.ActionRestart:    "Restart services",
	lifecycle.ActionRun:        "Run services (same as start)",
}

var actionPastTense = map[lifecycle.Action]string{
	lifecycle.ActionInstall:    "installed",
	lifecycle.ActionUninstall:  "uninstalled",
	lifecycle.ActionRegister:   "registered",
	lifecycle.ActionUnregister: "unregistered",
	lifecycle.ActionStart:      "started",
	lifecycle.ActionStop:       "stopped",
	lifecycle.ActionRestart:    "restarted",
	lifecycle.ActionRun:        "started",
}

func init() {
	for _, a := range []lifecycle.Action{
		lifecycle.ActionRun,
		lifecycle.ActionStart,
		lifecycle.ActionStop,
		lifecycle.ActionRestart,
		lifecycle.ActionRegister,
		lifecycle.ActionUnregister,
		lifecycle.ActionInstall,
		lifecycle.ActionUninstall,
	} {
		rootCmd.AddCommand(newActionCommand(a))
	}
}

func newActionCommand(action lifecycle.Action) *cobra.Command {
	var all bool
	c := &cobra.Command{
		Use:   string(action) + " [formula...]",
		Short: actionHelp[action],
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd, action, args, all)
		},
	}
	c.Flags().BoolVar(&all, "all", false, "apply to every service in the catalog")
	return c
}

func runAction(cmd *cobra.Command, action lifecycle.Action, names []string, all bool) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return fmt.Errorf("plexsvc %s: %w", action, err)
	}
	formulae, err := env.catalog.Select(names, all)
	if err != nil {
		return fmt.Errorf("plexsvc %s: %w", action, err)
	}
	cmd.SilenceUsage = true

	results := env.driver.PerformAll(action, definitions(formulae))
	if failed := report(cmd, results); failed > 0 {
		return fmt.Errorf("plexsvc %s: %d of %d service(s) failed", action, failed, len(results))
	}
	return nil
}

// report prints one line per result and returns the number of failures.
func report(cmd *cobra.Command, results []lifecycle.Result) int {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	failed := 0
	for _, r := range results {
		for _, w := range r.Warnings {
			fmt.Fprintf(errOut, "Warning: %v\n", w)
		}
		switch {
		case r.Refused != nil:
			failed++
			fmt.Fprintf(errOut, "Error: %v\n", r.Refused)
		case r.Err != nil:
			failed++
			fmt.Fprintf(errOut, "Error: %v\n", r.Err)
		default:
			fmt.Fprintf(out, "==> Successfully %s %s\n", actionPastTense[r.Action], r.Definition.Name())
		}
	}
	return failed
}
