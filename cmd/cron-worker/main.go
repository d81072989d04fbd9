package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ringwise/ringwise-backend/internal/calls"
	"github.com/ringwise/ringwise-backend/internal/cron"
	"github.com/ringwise/ringwise-backend/internal/recordings"
	"github.com/ringwise/ringwise-backend/pkg/config"
	"github.com/ringwise/ringwise-backend/pkg/db"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/metrics"
	"github.com/ringwise/ringwise-backend/pkg/migrate"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	callMetrics := metrics.NewCallMetrics(promRegistry)
	jobs, err := buildJobs(ctx, cfg, logg, dbClient, callMetrics)
	if err != nil {
		logg.Error(ctx, "failed to build cron jobs", err)
		os.Exit(1)
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		logg.Error(ctx, "failed to build cron registry", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockEnv(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(promRegistry),
		Schedule: cfg.Cron.Schedule,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"schedule":    cfg.Cron.Schedule,
	})
	metrics.ServeWorker(ctx, cfg.Service.MetricsAddr, promRegistry, logg)
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, callMetrics *metrics.CallMetrics) ([]cron.Job, error) {
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}
	jobs := []cron.Job{retention}

	store, err := recordings.OpenStore(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		logg.Warn(ctx, "recording archival disabled, skipping archive retry job")
		return jobs, nil
	}
	archiver, err := recordings.NewArchiver(store, recordings.Options{
		HTTPClient: &http.Client{Timeout: cfg.Recordings.FetchTimeout},
		MaxBytes:   cfg.Recordings.MaxBytes,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	retry, err := cron.NewArchiveRetryJob(cron.ArchiveRetryJobParams{
		Logger:    logg,
		Calls:     calls.NewRepository(dbClient.DB()),
		Archiver:  archiver,
		Metrics:   callMetrics,
		Window:    cfg.Cron.ArchiveRetryWindow,
		Batch:     cfg.Cron.ArchiveRetryBatch,
		Timeout:   cfg.Cron.ArchiveRetryTimeout,
		PerSecond: cfg.Recordings.RetryRate,
	})
	if err != nil {
		return nil, err
	}
	return append(jobs, retry), nil
}

func lockEnv(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
