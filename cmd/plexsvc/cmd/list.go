package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/plexsphere/plexsvc/internal/lifecycle"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all services and their state",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return fmt.Errorf("plexsvc list: %w", err)
	}
	cmd.SilenceUsage = true

	results := env.driver.StatusAll(definitions(env.catalog.All()))

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tStatus\tUser\tFile")
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(tw, "%s\t%s\t\t\n", r.Definition.Name(), "error")
			env.logger.Error("status failed", "service", r.Definition.Name(), "error", r.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Service.Name(), r.Service.State, userColumn(r.Service), r.Service.FilePath)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("plexsvc list: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("plexsvc list: status of %d service(s) could not be determined", failed)
	}
	return nil
}

func userColumn(svc lifecycle.Service) string {
	if svc.User == nil {
		return ""
	}
	return svc.User.Username
}
