package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/maintenance"
	"github.com/himanshugvu/eventAdapter/internal/metrics"
)

func newMaintenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "maintenance <stale|retry|cleanup>",
		Short:     "Run one maintenance job against the event store and exit",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{maintenance.JobStale, maintenance.JobRetry, maintenance.JobCleanup},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer syncLogger(log)

			if cfg.Database.Driver == "memory" {
				return fmt.Errorf("maintenance needs a persistent store, DATABASE_DRIVER is %q", cfg.Database.Driver)
			}

			store, err := openStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			collector := metrics.NewCollector(prometheus.NewRegistry(), cfg.Database.Strategy, log)
			scheduler := maintenance.NewScheduler(maintenanceConfig(cfg), store, collector, log)

			affected, err := scheduler.RunJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			log.Info("Maintenance job finished",
				zap.String("job", args[0]),
				zap.Int64("affected", affected))
			return nil
		},
	}
}
