package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/greenbasket-backend/internal/effects"
	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/instance"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
	"github.com/angelmondragon/greenbasket-backend/pkg/migrate"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/registry"
	"github.com/angelmondragon/greenbasket-backend/pkg/pubsub"
	"github.com/angelmondragon/greenbasket-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "effects-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "effects-worker"

	logg = logger.New(logger.Options{
		ServiceName: "effects-worker",
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var notificationPublisher *gcppubsub.Publisher
	if cfg.PubSub.Enabled() {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		notificationPublisher = pubsubClient.NotificationPublisher()
	} else {
		logg.Warn(context.Background(), "notification topic not configured, notifications will be logged")
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	conn := dbClient.DB()

	ledgerService, err := ledger.NewService(dbClient, ledger.NewRepository(conn), settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	walletService, err := wallets.NewService(wallets.NewRepository(conn), ledgerService)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}
	caseService, err := reconcile.NewService(reconcile.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation service", err)
		os.Exit(1)
	}
	outboxRepo := outbox.NewRepository(conn)

	notifier, err := effects.NewNotificationHandler(effects.NotifierParams{
		Logger:    logg,
		Publisher: notificationPublisher,
		Dedupe:    dedupe,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}
	handlers, err := effects.NewHandlers(effects.Deps{
		Wallets:  walletService,
		Ledger:   ledgerService,
		Orders:   orders.NewRepository(conn),
		Outbox:   outboxRepo,
		Notifier: notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build effect handlers", err)
		os.Exit(1)
	}

	params := effects.Params{
		Repository: outboxRepo,
		Registry:   registry.NewEventRegistry(cfg.PubSub),
		Cases:      caseService,
		Handlers:   handlers,
		Logger:     logg,
		Metrics:    settlementMetrics,
		WorkerID:   instance.GetID(),
	}
	params.ApplyConfig(cfg.Outbox)
	dispatcher, err := effects.NewDispatcher(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Dispatcher: dispatcher,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create effects worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "effects-worker",
		"workerId":    params.WorkerID,
	})
	logg.Info(ctx, "starting effects worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "effects worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "effects worker shutting down gracefully")
}
