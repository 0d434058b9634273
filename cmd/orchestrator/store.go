package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/himanshugvu/eventAdapter/internal/config"
	"github.com/himanshugvu/eventAdapter/internal/repository"
	"github.com/himanshugvu/eventAdapter/internal/repository/clickhouse"
	"github.com/himanshugvu/eventAdapter/internal/repository/memory"
	"github.com/himanshugvu/eventAdapter/internal/repository/postgres"
)

// openStore connects the event store selected by DATABASE_DRIVER and prepares its schema
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.EventStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		log.Warn("Using in-memory event store; events are lost on restart")
		return memory.NewRepository(), nil

	case "postgres":
		db, err := postgres.Open(ctx, &cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, db, log); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return postgres.NewRepository(db, log), nil

	case "clickhouse":
		client, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
		if err != nil {
			return nil, err
		}
		repo := clickhouse.NewRepository(client, log)
		if err := repo.InitSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		log.Info("Database schema initialized")
		return repo, nil
	}

	return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
}
