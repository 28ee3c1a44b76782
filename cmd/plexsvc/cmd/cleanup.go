package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove unit files of services that are not running",
	Args:  cobra.NoArgs,
	RunE:  runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return fmt.Errorf("plexsvc cleanup: %w", err)
	}
	cmd.SilenceUsage = true

	results := env.driver.Cleanup(definitions(env.catalog.All()))
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "All user-space services OK, nothing cleaned...")
		return nil
	}
	if failed := report(cmd, results); failed > 0 {
		return fmt.Errorf("plexsvc cleanup: %d service(s) failed", failed)
	}
	return nil
}
