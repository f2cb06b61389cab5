package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/tealigantal/gp/internal/syncserver"
	"github.com/tealigantal/gp/pkg/config"
	"github.com/tealigantal/gp/pkg/logger"
	"github.com/tealigantal/gp/pkg/shutdown"
)

func main() {
	_ = godotenv.Load(".env")

	var (
		cfgPath string
		addr    string
	)
	flag.StringVar(&cfgPath, "config", "", "config file path")
	flag.StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	flag.Parse()

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	eff, err := config.LoadEffectiveConfig(config.Flags{Config: cfgPath, Set: set})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	cfg := eff.Config
	if addr != "" {
		cfg.Server.Address = addr
	}

	logger.Init(cfg.Logging.Level)

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	srv := syncserver.New(nil, syncserver.Options{MaxDelta: cfg.Server.MaxDelta})
	if err := srv.ListenAndServe(ctx, cfg.Server.Address); err != nil {
		shutdown.Abort("sync server failed", err)
	}
	logger.Info("sync_server_stopped")
}
