package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-research/internal/config"
	"github.com/JakeFAU/company-research/internal/logging"
	"github.com/JakeFAU/company-research/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("application build failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	if err := app.Run(ctx); err != nil {
		logger.Error("application exited with error", zap.Error(err))
		os.Exit(1)
	}
}
