package main

import (
	"github.com/spf13/cobra"

	"github.com/himanshugvu/eventAdapter/internal/repository/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer syncLogger(log)

			db, err := postgres.Open(cmd.Context(), &cfg.Postgres, log)
			if err != nil {
				return err
			}
			defer db.Close()

			return postgres.Migrate(cmd.Context(), db, log)
		},
	}
}
