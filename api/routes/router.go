package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/greenbasket-backend/api/controllers"
	"github.com/angelmondragon/greenbasket-backend/api/middleware"
	"github.com/angelmondragon/greenbasket-backend/api/responses"
	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/settlement"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
)

// Store is the redis surface used for Idempotency-Key replays, rate limits
// and the readiness check. A nil Store disables the first two.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ResponseKey(scope, key string) string
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// Deps groups everything NewRouter wires into handlers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Store    Store
	Gatherer prometheus.Gatherer
	// HTTPMetrics may be nil.
	HTTPMetrics *metrics.HTTPMetrics
	Settlement  settlement.Service
	Orders      orders.Service
	Wallets     wallets.Service
	Ledger      ledger.Service
	Reconcile   reconcile.Service
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, d.HTTPMetrics),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeValidation, "method not allowed"))
	})

	idem := middleware.Idempotency(d.Store, logg)
	verifyPolicy := middleware.NewRateLimitPolicy("payment_verify", cfg.API.VerifyRateWindow, cfg.API.VerifyRateLimit, "gateway_order_id")
	admin := middleware.AdminAuth(cfg.API.AdminToken, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, d.DB, d.Store, logg))
	})

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/quote", controllers.Quote(d.Settlement, logg))
		r.With(idem).Post("/orders", controllers.PlaceOrder(d.Settlement, logg))
		r.Get("/orders/{orderID}", controllers.GetOrder(d.Orders, logg))
		r.With(admin, idem).Patch("/orders/{orderID}/status", controllers.UpdateOrderStatus(d.Settlement, logg))
		r.With(middleware.RateLimit(verifyPolicy, d.Store, logg)).Post("/payments/verify", controllers.VerifyPayment(d.Settlement, logg))
		r.Get("/customers/{customerID}/orders", controllers.CustomerOrders(d.Orders, logg))
		r.Get("/wallets/{customerID}", controllers.WalletOverview(d.Wallets, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(admin)
		r.With(idem).Post("/wallets/{customerID}/credits", controllers.CreditWallet(d.Wallets, logg))
		r.With(idem).Patch("/wallets/{customerID}/status", controllers.SetWalletStatus(d.Wallets, logg))
		r.Get("/wallets/{customerID}/ledger", controllers.LedgerSummary(d.Wallets, d.Ledger, logg))
		r.With(idem).Post("/ledger/{entryID}/reverse", controllers.ReverseLedgerEntry(d.Ledger, logg))
		r.Get("/reconciliation", controllers.ReconciliationCases(d.Reconcile, logg))
		r.With(idem).Post("/reconciliation/{caseID}/resolve", controllers.ResolveReconciliationCase(d.Reconcile, logg))
	})

	return r
}
