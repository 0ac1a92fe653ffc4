package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/greenbasket-backend/api/routes"
	"github.com/angelmondragon/greenbasket-backend/internal/coupons"
	"github.com/angelmondragon/greenbasket-backend/internal/customers"
	"github.com/angelmondragon/greenbasket-backend/internal/effects"
	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/sequence"
	"github.com/angelmondragon/greenbasket-backend/internal/settlement"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/gateway"
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
	logg := logger.New(logger.Options{ServiceName: "greenbasket-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "greenbasket-api",
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
	inventoryService, err := inventory.NewService(dbClient, inventory.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}
	customerService, err := customers.NewService(customers.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create customer service", err)
		os.Exit(1)
	}
	couponService, err := coupons.NewService(coupons.NewRepository(conn))
	if err != nil {
		logg.Error(context.Background(), "failed to create coupon service", err)
		os.Exit(1)
	}
	caseService, err := reconcile.NewService(reconcile.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciliation service", err)
		os.Exit(1)
	}
	ordersRepo := orders.NewRepository(conn)
	ordersService, err := orders.NewService(ordersRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	seqOpts := sequence.OptionsFromConfig(cfg.Sequence)
	seqOpts.Repo = sequence.NewRepository(conn)
	seqOpts.Logger = logg
	seqOpts.Metrics = settlementMetrics
	sequenceGen, err := sequence.NewGenerator(seqOpts)
	if err != nil {
		logg.Error(context.Background(), "failed to create sequence generator", err)
		os.Exit(1)
	}

	cashbackPolicy, err := pricing.PolicyFromConfig(cfg.Cashback)
	if err != nil {
		logg.Error(context.Background(), "invalid cashback policy", err)
		os.Exit(1)
	}
	calculator, err := pricing.NewCalculator(pricing.RulesFromConfig(cfg.Pricing), cashbackPolicy)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing calculator", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)

	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}
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
		Orders:   ordersRepo,
		Outbox:   outboxService.Repository(),
		Notifier: notifier,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build effect handlers", err)
		os.Exit(1)
	}
	dispatchParams := effects.Params{
		Repository: outboxService.Repository(),
		Registry:   registry.NewEventRegistry(cfg.PubSub),
		Cases:      caseService,
		Handlers:   handlers,
		Logger:     logg,
		Metrics:    settlementMetrics,
		WorkerID:   "api-" + instance.GetID(),
	}
	dispatchParams.ApplyConfig(cfg.Outbox)
	dispatcher, err := effects.NewDispatcher(dispatchParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create effect dispatcher", err)
		os.Exit(1)
	}

	replayGuard, err := idempotency.NewManager(redisClient, cfg.Eventing.PaymentReplayGuardTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment replay guard", err)
		os.Exit(1)
	}

	settlementParams := settlement.Params{
		DB:          dbClient,
		Calculator:  calculator,
		Inventory:   inventoryService,
		Customers:   customerService,
		Coupons:     couponService,
		Wallets:     walletService,
		Orders:      ordersRepo,
		Sequence:    sequenceGen,
		Outbox:      outboxService,
		Effects:     dispatcher,
		Cases:       caseService,
		Logger:      logg,
		Metrics:     settlementMetrics,
		ReplayGuard: replayGuard,
	}
	settlementParams.ApplyConfig(cfg)
	if cfg.Gateway.KeyID != "" {
		gatewayClient, err := gateway.NewFromConfig(cfg.Gateway)
		if err != nil {
			logg.Error(context.Background(), "failed to create payment gateway client", err)
			os.Exit(1)
		}
		settlementParams.Gateway = gatewayClient
	} else {
		logg.Warn(context.Background(), "payment gateway not configured, ONLINE orders are disabled")
	}
	settlementService, err := settlement.NewService(settlementParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	handler := routes.NewRouter(routes.Deps{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Store:       redisClient,
		Gatherer:    prometheus.DefaultGatherer,
		HTTPMetrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		Settlement:  settlementService,
		Orders:      ordersService,
		Wallets:     walletService,
		Ledger:      ledgerService,
		Reconcile:   caseService,
	})

	addr := ":" + cfg.App.Port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-stop:
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
