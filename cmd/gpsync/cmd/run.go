package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tealigantal/gp/internal/app"
	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/shutdown"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		eff, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger.Info("effective_config_loaded", "source", eff.Source, "endpoint", eff.Config.Sync.Endpoint)

		ctx, cancel := shutdown.SetupSignalHandler(context.Background())
		defer cancel()

		a, err := app.New(ctx, eff, version)
		if err != nil {
			return err
		}
		runErr := a.Run(ctx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer shutdownCancel()
		if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	},
}
