package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/himanshugvu/eventAdapter/internal/config"
	"github.com/himanshugvu/eventAdapter/internal/consumer"
	"github.com/himanshugvu/eventAdapter/internal/handler"
	"github.com/himanshugvu/eventAdapter/internal/idempotency"
	"github.com/himanshugvu/eventAdapter/internal/latency"
	"github.com/himanshugvu/eventAdapter/internal/maintenance"
	"github.com/himanshugvu/eventAdapter/internal/metrics"
	"github.com/himanshugvu/eventAdapter/internal/orchestrator"
	"github.com/himanshugvu/eventAdapter/internal/publisher"
	"github.com/himanshugvu/eventAdapter/internal/service"
	"github.com/himanshugvu/eventAdapter/internal/telemetry"
	"github.com/himanshugvu/eventAdapter/internal/transformer"
)

const gaugeTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the consumer pipeline, maintenance jobs and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer syncLogger(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("Starting event orchestrator",
		zap.String("strategy", cfg.Database.Strategy.String()),
		zap.String("database", cfg.Database.Driver),
		zap.String("transport", cfg.Transport.Driver),
		zap.String("transformer", cfg.Transformer.Name))

	tp, shutdownTracing, err := telemetry.Setup(ctx, cfg.Service, cfg.Telemetry, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("Failed to shut down tracing", zap.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close event store", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry, cfg.Database.Strategy, log)
	collector.RegisterStatusGauges(store, gaugeTimeout)

	tport, err := openTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := tport.producer.Close(); err != nil {
			log.Error("Failed to close producer", zap.Error(err))
		}
	}()

	tr, err := transformer.New(cfg.Transformer.Name)
	if err != nil {
		return err
	}

	pub := publisher.NewPublisher(tport.producer, publisher.Config{
		Topic:       cfg.Producer.Topic,
		MaxAttempts: cfg.Resilience.PublishMaxAttempts,
		RetryDelay:  cfg.Resilience.PublishRetryDelay,
		Timeout:     cfg.Resilience.PublishTimeout,
	}, collector, log)

	tracker := latency.NewTracker(collector, log)

	dispatcher, err := orchestrator.NewDispatcher(cfg.Database.Strategy, store, tr, pub, tracker, collector, log,
		orchestrator.WithTracerProvider(tp))
	if err != nil {
		return err
	}

	var dedup consumer.Deduplicator
	if cfg.Valkey.IdempotencyEnabled {
		client, err := idempotency.NewClient(ctx, cfg.Valkey)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error("Failed to close valkey client", zap.Error(err))
			}
		}()
		dedup = idempotency.NewFilter(client, cfg.Valkey.IdempotencyTTL, cfg.Valkey.IdempotencyFailOpen, log)
		log.Info("Idempotency filter enabled", zap.Duration("ttl", cfg.Valkey.IdempotencyTTL))
	}

	c := consumer.NewConsumer(consumer.Config{
		Concurrency:    cfg.Consumer.Concurrency,
		MaxPollRecords: cfg.Consumer.MaxPollRecords,
		BufferSize:     cfg.Consumer.BufferSize,
		BulkSize:       cfg.Database.BulkSize,
		FlushTimeout:   cfg.Consumer.FlushTimeout,
	}, tport.factory, dispatcher, dedup, log)

	if cfg.Maintenance.Enabled {
		scheduler := maintenance.NewScheduler(maintenanceConfig(cfg), store, collector, log)
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	stats := service.NewStatsService(store, tracker, service.PipelineInfo{
		Strategy:    cfg.Database.Strategy,
		Transformer: tr.Name(),
		Transport:   cfg.Transport.Driver,
		Concurrency: cfg.Consumer.Concurrency,
		BulkSize:    cfg.Database.BulkSize,
	}, log)

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handler.NewHandler(stats, registry, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return c.Start(gctx)
	})

	err = g.Wait()

	log.Info("Draining in-flight completions")
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if waitErr := dispatcher.Wait(drainCtx); waitErr != nil {
		log.Warn("Shutdown before all completions finished", zap.Error(waitErr))
	}
	tracker.LogStats()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("Event orchestrator stopped")
	return nil
}

func maintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		StaleThreshold:  cfg.Database.StaleEventThreshold,
		MaxRetries:      cfg.Database.MaxRetries,
		Retention:       cfg.Database.RetentionPeriod,
		StaleInterval:   cfg.Maintenance.StaleInterval,
		RetryInterval:   cfg.Maintenance.RetryInterval,
		CleanupInterval: cfg.Maintenance.CleanupInterval,
	}
}
