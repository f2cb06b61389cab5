package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tealigantal/gp/internal/app"
	"github.com/tealigantal/gp/pkg/config"
	"github.com/tealigantal/gp/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

var flags struct {
	config   string
	endpoint string
	store    string
	output   string
	logLevel string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gpsync",
	Short: "Conversation sync client",
	Long: `gpsync keeps a local replica of your conversations in step with the
sync server. Run "gpsync run" for the background daemon, or use the
one-shot commands to send, list, read and search.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "config file path (default ./gpsync.yaml)")
	pf.StringVar(&flags.endpoint, "endpoint", "", "sync API base URL, e.g. http://127.0.0.1:8000/api")
	pf.StringVar(&flags.store, "store", "", "store backend: pebble, redis or memory")
	pf.StringVarP(&flags.output, "output", "o", "table", "output format: table, json or yaml")
	pf.StringVar(&flags.logLevel, "log-level", "", "override logging.level")
}

func loadConfig(cmd *cobra.Command) (config.EffectiveConfigResult, error) {
	_ = godotenv.Load(".env")
	pf := cmd.Flags()
	eff, err := config.LoadEffectiveConfig(config.Flags{
		Config:   flags.config,
		Endpoint: flags.endpoint,
		Store:    flags.store,
		Set: map[string]bool{
			"config":   pf.Changed("config"),
			"endpoint": pf.Changed("endpoint"),
			"store":    pf.Changed("store"),
		},
	})
	if err != nil {
		return eff, err
	}
	level := eff.Config.Logging.Level
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logger.Init(level)
	return eff, nil
}

// openApp builds an initialised engine for a one-shot command. The
// caller must Close it.
func openApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	eff, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, eff, version)
}
