package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoAll bool

var infoCmd = &cobra.Command{
	Use:   "info [formula...]",
	Short: "Show detailed state of services",
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().BoolVar(&infoAll, "all", false, "show every service in the catalog")
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(cmd)
	if err != nil {
		return fmt.Errorf("plexsvc info: %w", err)
	}
	formulae, err := env.catalog.Select(args, infoAll)
	if err != nil {
		return fmt.Errorf("plexsvc info: %w", err)
	}
	cmd.SilenceUsage = true

	w := cmd.OutOrStdout()
	failed := 0
	for i, r := range env.driver.StatusAll(definitions(formulae)) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s: %v\n", r.Definition.Name(), r.Err)
			continue
		}
		svc := r.Service
		fmt.Fprintf(w, "%s (%s)\n", svc.Name(), svc.ServiceID)
		fmt.Fprintf(w, "Running:  %t\n", svc.Started())
		fmt.Fprintf(w, "Loaded:   %t\n", svc.Installed())
		fmt.Fprintf(w, "Status:   %s\n", svc.State)
		if svc.User != nil {
			fmt.Fprintf(w, "User:     %s\n", svc.User.Username)
		}
		if svc.Installed() {
			fmt.Fprintf(w, "File:     %s\n", svc.FilePath)
		}
	}
	if failed > 0 {
		return fmt.Errorf("plexsvc info: %d service(s) failed", failed)
	}
	return nil
}
