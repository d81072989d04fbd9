package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/ringwise/ringwise-backend/api/routes"
	"github.com/ringwise/ringwise-backend/internal/accounts"
	"github.com/ringwise/ringwise-backend/internal/billing"
	"github.com/ringwise/ringwise-backend/internal/calls"
	"github.com/ringwise/ringwise-backend/internal/numbers"
	"github.com/ringwise/ringwise-backend/internal/recordings"
	"github.com/ringwise/ringwise-backend/internal/subscriptions"
	vapiwebhook "github.com/ringwise/ringwise-backend/internal/webhooks/vapi"
	"github.com/ringwise/ringwise-backend/pkg/config"
	"github.com/ringwise/ringwise-backend/pkg/db"
	"github.com/ringwise/ringwise-backend/pkg/db/models"
	"github.com/ringwise/ringwise-backend/pkg/logger"
	"github.com/ringwise/ringwise-backend/pkg/metrics"
	"github.com/ringwise/ringwise-backend/pkg/migrate"
	"github.com/ringwise/ringwise-backend/pkg/outbox"
	"github.com/ringwise/ringwise-backend/pkg/paypal"
	"github.com/ringwise/ringwise-backend/pkg/phone"
	"github.com/ringwise/ringwise-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	callMetrics := metrics.NewCallMetrics(registry)

	deps, err := buildDependencies(ctx, cfg, logg, dbClient, redisClient, callMetrics)
	if err != nil {
		logg.Error(ctx, "failed to wire services", err)
		os.Exit(1)
	}
	deps.Gatherer = registry
	deps.HTTPMetrics = metrics.NewHTTPMetrics(registry)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "api server shutdown failed", err)
		}
		logg.Info(logCtx, "api server shut down gracefully")
	}
}

func buildDependencies(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, callMetrics *metrics.CallMetrics) (routes.Dependencies, error) {
	detector, err := phone.NewDetector(cfg.Numbers.DefaultCountry)
	if err != nil {
		return routes.Dependencies{}, err
	}
	rate, err := cfg.Vapi.Rate()
	if err != nil {
		return routes.Dependencies{}, err
	}

	accountRepo := accounts.NewRepository(dbClient.DB())
	numberRepo := numbers.NewRepository(dbClient.DB())
	callRepo := calls.NewRepository(dbClient.DB())
	billingRepo := billing.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	numberService, err := numbers.NewService(numbers.ServiceParams{
		Repo: numberRepo,
		Accounts: func(tx *gorm.DB) numbers.AccountAssigner {
			return accountRepo.WithTx(tx)
		},
		TransactionRunner: dbClient,
		Detector:          detector,
		Attempts:          cfg.Numbers.AllocationAttempts,
		Metrics:           callMetrics,
		Logger:            logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:    accountRepo,
		Plans:   billingRepo,
		Numbers: numberRepo,
		Calls:   callRepo,
		Allocate: func(ctx context.Context, accountID uuid.UUID, countryCode, phoneNumber string) (*models.VirtualNumber, error) {
			return numberService.Allocate(ctx, numbers.AllocateInput{
				AccountID:   accountID,
				CountryCode: countryCode,
				PhoneNumber: phoneNumber,
			})
		},
		TransactionRunner: dbClient,
		FreePlanID:        cfg.Billing.FreePlanID,
		Detector:          detector,
		Logger:            logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	billingService, err := billing.NewService(billing.ServiceParams{
		Repo:              billingRepo,
		TransactionRunner: dbClient,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	paypalClient, err := paypal.NewClient(cfg.PayPal)
	if err != nil {
		return routes.Dependencies{}, err
	}
	guard, err := subscriptions.NewCaptureGuard(redisClient, cfg.Eventing.IdempotencyTTL, "paypal-capture")
	if err != nil {
		return routes.Dependencies{}, err
	}
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		BillingRepo:       billingRepo,
		Accounts:          accountRepo,
		PayPal:            paypalClient,
		Guard:             guard,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Period:            cfg.Billing.Period(),
		Logger:            logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	webhookParams := vapiwebhook.ServiceParams{
		Secret:            cfg.Vapi.WebhookSecret,
		Rate:              rate,
		DefaultRegion:     cfg.Numbers.DefaultCountry,
		ArchiveTimeout:    cfg.Vapi.ArchiveTimeout,
		Accounts:          accountRepo,
		Calls:             callRepo,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Metrics:           callMetrics,
		Logger:            logg,
	}
	store, err := recordings.OpenStore(ctx, cfg, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}
	if store != nil {
		archiver, err := recordings.NewArchiver(store, recordings.Options{
			HTTPClient: &http.Client{Timeout: cfg.Recordings.FetchTimeout},
			MaxBytes:   cfg.Recordings.MaxBytes,
			Logger:     logg,
		})
		if err != nil {
			return routes.Dependencies{}, err
		}
		webhookParams.Archiver = archiver
	} else {
		logg.Warn(ctx, "recording archival disabled")
	}
	webhookService, err := vapiwebhook.NewService(webhookParams)
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:            dbClient,
		Redis:         redisClient,
		Accounts:      accountService,
		Numbers:       numberService,
		Plans:         billingService,
		Orders:        billingService,
		Subscriptions: subscriptionService,
		VapiWebhook:   webhookService,
	}, nil
}
