package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/config"
	"github.com/himanshugvu/eventAdapter/internal/logger"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Consume, persist, transform and republish events",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd(), newMigrateCmd(), newMaintenanceCmd())
	return cmd
}

// bootstrap loads configuration and builds the process logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Service.Environment, cfg.Service.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func syncLogger(log *zap.Logger) {
	// stderr sync fails with EINVAL on some terminals
	_ = log.Sync()
}
