// Package settlement sequences pricing, stock reservation, order persistence
// and the wallet effects for each payment method.
//
// Stock is the only resource compensated inline. Everything that touches the
// ledger after an order exists is an outbox effect: it is committed with the
// order and applied by the effects dispatcher, inline where the caller needs
// the outcome and by the worker otherwise.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/coupons"
	"github.com/angelmondragon/greenbasket-backend/internal/customers"
	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/sequence"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/gateway"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	replayConsumer       = "payment-verify"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (*models.OutboxEvent, error)
}

// effectRunner applies one committed effect immediately.
type effectRunner interface {
	DispatchOne(ctx context.Context, dedupeKey string) error
}

// replayGuard is the Redis fast path in front of the gateway_payment_id
// unique index.
type replayGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error)
	Delete(ctx context.Context, consumer, id string) error
}

// Service is the checkout state machine.
type Service interface {
	Quote(ctx context.Context, req QuoteRequest) (*pricing.Quote, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error)
	VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResult, error)
	UpdateOrderStatus(ctx context.Context, req StatusUpdateRequest) (*models.Order, error)
}

type Params struct {
	DB         txRunner
	Calculator *pricing.Calculator
	Inventory  inventory.Service
	Customers  customers.Service
	Coupons    coupons.Service
	Wallets    wallets.Service
	Orders     orders.Repository
	Sequence   sequence.Generator
	Outbox     outboxEmitter
	Effects    effectRunner
	Cases      reconcile.Service
	Logger     *logger.Logger
	Metrics    *metrics.SettlementMetrics

	// Gateway is optional; without it ONLINE orders are refused.
	Gateway       gateway.Client
	GatewayKeyID  string
	ReplayGuard   replayGuard
	Currency      string
	VerifyTimeout time.Duration
	FetchOnVerify bool
	Now           func() time.Time
}

// ApplyConfig copies gateway and currency settings.
func (p *Params) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	p.Currency = cfg.Pricing.Currency
	p.GatewayKeyID = cfg.Gateway.KeyID
	p.VerifyTimeout = cfg.Gateway.VerifyTimeout
	p.FetchOnVerify = cfg.Gateway.FetchOnVerify
}

type service struct {
	db         txRunner
	calc       *pricing.Calculator
	inventory  inventory.Service
	customers  customers.Service
	coupons    coupons.Service
	wallets    wallets.Service
	orders     orders.Repository
	sequence   sequence.Generator
	outbox     outboxEmitter
	effects    effectRunner
	cases      reconcile.Service
	logg       *logger.Logger
	metrics    *metrics.SettlementMetrics
	gateway    gateway.Client
	keyID      string
	replay     replayGuard
	currency   string
	verifyWait time.Duration
	fetchPay   bool
	now        func() time.Time
}

func NewService(p Params) (Service, error) {
	switch {
	case p.DB == nil:
		return nil, fmt.Errorf("tx runner required")
	case p.Calculator == nil:
		return nil, fmt.Errorf("pricing calculator required")
	case p.Inventory == nil:
		return nil, fmt.Errorf("inventory service required")
	case p.Customers == nil:
		return nil, fmt.Errorf("customer service required")
	case p.Coupons == nil:
		return nil, fmt.Errorf("coupon service required")
	case p.Wallets == nil:
		return nil, fmt.Errorf("wallet service required")
	case p.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case p.Sequence == nil:
		return nil, fmt.Errorf("sequence generator required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case p.Effects == nil:
		return nil, fmt.Errorf("effect runner required")
	case p.Cases == nil:
		return nil, fmt.Errorf("reconciliation service required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	s := &service{
		db:         p.DB,
		calc:       p.Calculator,
		inventory:  p.Inventory,
		customers:  p.Customers,
		coupons:    p.Coupons,
		wallets:    p.Wallets,
		orders:     p.Orders,
		sequence:   p.Sequence,
		outbox:     p.Outbox,
		effects:    p.Effects,
		cases:      p.Cases,
		logg:       p.Logger,
		metrics:    p.Metrics,
		gateway:    p.Gateway,
		keyID:      p.GatewayKeyID,
		replay:     p.ReplayGuard,
		currency:   p.Currency,
		verifyWait: p.VerifyTimeout,
		fetchPay:   p.FetchOnVerify,
		now:        p.Now,
	}
	if s.currency == "" {
		s.currency = string(enums.CurrencyINR)
	}
	if s.verifyWait <= 0 {
		s.verifyWait = defaultVerifyTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *service) Quote(ctx context.Context, req QuoteRequest) (*pricing.Quote, error) {
	priced, err := s.price(ctx, req.Cart, req.CustomerID, req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	return priced.quote, nil
}

// priced is a quote plus what settlement needs to act on it.
type priced struct {
	quote  *pricing.Quote
	coupon *pricing.CouponInput
	stock  []inventory.StockChange
}

func (p *priced) couponID() *uuid.UUID {
	if p.coupon == nil || p.coupon.Coupon == nil || !p.quote.Coupon.Applied {
		return nil
	}
	id := p.coupon.Coupon.ID
	return &id
}

// price resolves the cart against the catalog and prices it. customerID is
// optional for quotes; without it the wallet and per-customer coupon limits
// are not applied.
func (s *service) price(ctx context.Context, cart Cart, customerID *uuid.UUID, method enums.PaymentMethod) (*priced, error) {
	return s.priceWith(ctx, cart, customerID, method, nil)
}

// priceWith prices like price but, when walletMinor is set, applies that
// wallet credit instead of reading the live balance. Payment verification
// uses it so credits landing after the intent do not change the payable.
func (s *service) priceWith(ctx context.Context, cart Cart, customerID *uuid.UUID, method enums.PaymentMethod, walletMinor *int64) (*priced, error) {
	if method == "" {
		method = enums.PaymentMethodCOD
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", method))
	}

	in := pricing.QuoteInput{
		Kind:          cart.Kind,
		PaymentMethod: method,
		UseWallet:     cart.UseWallet,
		Now:           s.now().UTC(),
	}
	var stockLines []pricing.LineInput
	switch cart.Kind {
	case enums.OrderKindCustom:
		if len(cart.Items) == 0 {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, pricing.ErrEmptyCart, "cart is empty")
		}
		lines, err := s.inventory.ResolveLines(ctx, cart.Items)
		if err != nil {
			return nil, err
		}
		in.Lines = lines
		stockLines = lines
	case enums.OrderKindBasket:
		if cart.BasketID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "basket id is required")
		}
		basket, components, err := s.inventory.ResolveBasket(ctx, *cart.BasketID, cart.basketQuantity())
		if err != nil {
			return nil, err
		}
		in.Basket = basket
		stockLines = components
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order kind %q", cart.Kind))
	}

	coupon, err := s.coupons.Lookup(ctx, cart.CouponCode, customerID)
	if err != nil {
		return nil, err
	}
	in.Coupon = coupon

	if customerID != nil {
		in.CustomerID = *customerID
		switch {
		case walletMinor != nil:
			in.WalletBalance = *walletMinor
		case in.UseWallet || method == enums.PaymentMethodWallet:
			if in.WalletBalance, err = s.walletBalance(ctx, *customerID); err != nil {
				return nil, err
			}
		}
		if in.CompletedOrders, err = s.customers.CompletedOrders(ctx, *customerID); err != nil {
			return nil, err
		}
	}

	quote, err := s.calc.Quote(in)
	if err != nil {
		return nil, err
	}
	changes, err := s.inventory.StockChanges(stockLines)
	if err != nil {
		return nil, err
	}
	return &priced{quote: quote, coupon: coupon, stock: changes}, nil
}

// walletBalance is the spendable balance. A wallet that is not active cannot
// be spent from, so its balance prices as zero credit and the placement is
// refused before any side effect.
func (s *service) walletBalance(ctx context.Context, customerID uuid.UUID) (int64, error) {
	wallet, err := s.wallets.Find(ctx, customerID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if wallet.Status != enums.WalletStatusActive {
		return 0, pkgerrors.New(pkgerrors.CodeBusinessRule, "wallet is not active").
			WithDetails(map[string]any{"reason": "wallet_inactive", "status": string(wallet.Status)})
	}
	return s.wallets.Balance(ctx, customerID)
}

// checkIntegrity recomputes the total from the priced lines.
func checkIntegrity(q *pricing.Quote) error {
	recomputed := pricing.RecomputeTotal(q.Lines, q.Coupon.Discount, q.DeliveryCharges)
	if !recomputed.Equal(q.TotalAmount) {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "order total does not match its lines").
			WithDetails(map[string]any{
				"total":      q.TotalAmount.StringFixed(2),
				"recomputed": recomputed.StringFixed(2),
			})
	}
	return nil
}

func (s *service) observe(method enums.PaymentMethod, outcome string) {
	if s.metrics != nil {
		s.metrics.IncSettlement(string(method), outcome)
	}
}
