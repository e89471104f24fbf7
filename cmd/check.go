package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCheckCmd creates the one-shot 'check' subcommand.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Runs a single ranking check for every project and exits",
		Long: `Performs one full ranking check cycle against the configured store and
prints the cycle report as JSON. The recurring timer is not started.`,
		RunE: runCheckCommand,
	}
}

func runCheckCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer app.Close()

	report, err := app.Scheduler().RunImmediateCheck(cmd.Context())
	if err != nil {
		return fmt.Errorf("ranking check: %w", err)
	}
	rt.logger.Info("ranking check finished",
		zap.Int("projects_checked", report.ProjectsChecked),
		zap.Int("projects_failed", report.ProjectsFailed),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
