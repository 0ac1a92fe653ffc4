package effects

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/registry"
)

type harness struct {
	conn       *gorm.DB
	logg       *logger.Logger
	ledger     ledger.Service
	wallets    wallets.Service
	orders     orders.Repository
	outbox     *outbox.Service
	cases      reconcile.Service
	dispatcher *Dispatcher
	clock      *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newHarness(t *testing.T, maxAttempts int, override map[enums.OutboxEventType]Handler) *harness {
	t.Helper()
	conn := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	ledgerSvc, err := ledger.NewService(db.Wrap(conn), ledger.NewRepository(conn), nil)
	require.NoError(t, err)
	walletSvc, err := wallets.NewService(wallets.NewRepository(conn), ledgerSvc)
	require.NoError(t, err)
	cases, err := reconcile.NewService(reconcile.NewRepository(conn), logg)
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	orderRepo := orders.NewRepository(conn)

	notifier, err := NewNotificationHandler(NotifierParams{Logger: logg})
	require.NoError(t, err)
	handlers, err := NewHandlers(Deps{
		Wallets:  walletSvc,
		Ledger:   ledgerSvc,
		Orders:   orderRepo,
		Outbox:   outboxSvc.Repository(),
		Notifier: notifier,
	})
	require.NoError(t, err)
	for k, v := range override {
		handlers[k] = v
	}

	clk := &clock{now: time.Now().UTC().Add(time.Second)}
	dispatcher, err := NewDispatcher(Params{
		Repository:  outboxSvc.Repository(),
		Registry:    registry.NewEventRegistry(config.PubSubConfig{}),
		Cases:       cases,
		Handlers:    handlers,
		Logger:      logg,
		WorkerID:    "test-worker",
		MaxAttempts: maxAttempts,
		RetryBase:   time.Second,
		RetryMax:    time.Minute,
		Now:         clk.Now,
	})
	require.NoError(t, err)

	return &harness{
		conn:       conn,
		logg:       logg,
		ledger:     ledgerSvc,
		wallets:    walletSvc,
		orders:     orderRepo,
		outbox:     outboxSvc,
		cases:      cases,
		dispatcher: dispatcher,
		clock:      clk,
	}
}

func (h *harness) order(t *testing.T, customerID uuid.UUID, orderID string, walletMinor int64) {
	t.Helper()
	require.NoError(t, h.conn.Create(&models.Order{
		OrderID:            orderID,
		CustomerID:         customerID,
		Kind:               enums.OrderKindCustom,
		PaymentMethod:      enums.PaymentMethodCOD,
		PaymentStatus:      enums.PaymentStatusPending,
		OrderStatus:        enums.OrderStatusPlaced,
		Items:              models.OrderItems{},
		TotalAmount:        decimal.NewFromInt(700),
		WalletCreditUsed:   decimal.New(walletMinor, -2),
		FinalPayableAmount: decimal.NewFromInt(700).Sub(decimal.New(walletMinor, -2)),
		CashbackEligible:   true,
		CashbackAmount:     decimal.NewFromInt(10),
	}).Error)
}

func (h *harness) fund(t *testing.T, customerID uuid.UUID, amount int64) {
	t.Helper()
	_, err := h.wallets.Credit(context.Background(), wallets.CreditInput{
		CustomerID:  customerID,
		Source:      enums.LedgerSourcePromo,
		ReferenceID: "PROMO_" + customerID.String(),
		Amount:      amount,
	})
	require.NoError(t, err)
}

func (h *harness) emit(t *testing.T, eventType enums.OutboxEventType, orderID string, data any) string {
	t.Helper()
	key := outbox.DedupeKey(eventType, orderID)
	require.NoError(t, h.conn.Transaction(func(tx *gorm.DB) error {
		_, err := h.outbox.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          data,
		})
		return err
	}))
	return key
}

func (h *harness) row(t *testing.T, key string) *models.OutboxEvent {
	t.Helper()
	row, err := h.outbox.Repository().FindByDedupeKey(context.Background(), key)
	require.NoError(t, err)
	return row
}

func (h *harness) balance(t *testing.T, customerID uuid.UUID) int64 {
	t.Helper()
	bal, err := h.wallets.Balance(context.Background(), customerID)
	require.NoError(t, err)
	return bal
}

func debitPayload(orderID string, customerID uuid.UUID, amount int64) payloads.WalletDebitEffect {
	return payloads.WalletDebitEffect{
		OrderID:       orderID,
		CustomerID:    customerID,
		AmountMinor:   amount,
		PaymentMethod: enums.PaymentMethodCOD,
		OrderTotal:    decimal.NewFromInt(700),
	}
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	_, err := NewDispatcher(Params{})
	assert.Error(t, err)
}

func TestWalletDebitAppliesOnce(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()
	h.fund(t, customer, 50000)
	h.order(t, customer, "ORD1", 50000)

	key := h.emit(t, enums.EventWalletDebit, "ORD1", debitPayload("ORD1", customer, 50000))
	require.NoError(t, h.dispatcher.DispatchOne(ctx, key))
	assert.Equal(t, int64(0), h.balance(t, customer))
	assert.Equal(t, enums.OutboxStatusDone, h.row(t, key).Status)

	// Done rows are not dispatched again.
	require.NoError(t, h.dispatcher.DispatchOne(ctx, key))

	entry, err := h.ledger.FindByReference(ctx, enums.LedgerSourceOrderPayment, "ORD1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), entry.Amount)
	assert.Equal(t, "ORD1", entry.Metadata.OrderID)
	assert.Equal(t, "700.00", entry.Metadata.OrderTotal)
}

func TestWalletDebitReplayAfterLostLeaseIsNoop(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()
	h.fund(t, customer, 50000)
	h.order(t, customer, "ORD1", 30000)

	handler, err := NewWalletDebitHandler(h.wallets, h.ledger, h.orders)
	require.NoError(t, err)
	p := debitPayload("ORD1", customer, 30000)
	require.NoError(t, handler.Handle(ctx, models.OutboxEvent{}, &p))
	require.NoError(t, handler.Handle(ctx, models.OutboxEvent{}, &p))
	assert.Equal(t, int64(20000), h.balance(t, customer))
}

func TestWalletDebitSkipsCancelledOrder(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()
	h.fund(t, customer, 50000)
	h.order(t, customer, "ORD1", 50000)
	_, err := h.orders.TransitionStatus(ctx, "ORD1", enums.OrderStatusPlaced, enums.OrderStatusCancelled, nil)
	require.NoError(t, err)

	key := h.emit(t, enums.EventWalletDebit, "ORD1", debitPayload("ORD1", customer, 50000))
	require.NoError(t, h.dispatcher.DispatchOne(ctx, key))
	assert.Equal(t, int64(50000), h.balance(t, customer))
}

func TestInsufficientBalanceOpensWalletCase(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()
	h.fund(t, customer, 10000)
	h.order(t, customer, "ORD1", 50000)

	key := h.emit(t, enums.EventWalletDebit, "ORD1", debitPayload("ORD1", customer, 50000))
	err := h.dispatcher.DispatchOne(ctx, key)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientBalance))

	row := h.row(t, key)
	assert.Equal(t, enums.OutboxStatusFailed, row.Status)
	assert.Equal(t, 1, row.AttemptCount)

	open, err := h.cases.List(ctx, enums.ReconciliationOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, enums.ReconcileWalletDebitFailed, open[0].Kind)
	assert.Equal(t, "wallet_debit_failed:ORD1", open[0].DedupeKey)
	assert.Equal(t, int64(50000), open[0].AmountMinor)
	assert.Equal(t, int64(10000), h.balance(t, customer))

	assert.Equal(t, ErrEffectFailed, h.dispatcher.DispatchOne(ctx, key))
}

func TestTransientFailuresRetryThenExhaust(t *testing.T) {
	calls := 0
	flaky := HandlerFunc(func(context.Context, models.OutboxEvent, any) error {
		calls++
		return errors.New("broker unavailable")
	})
	h := newHarness(t, 2, map[enums.OutboxEventType]Handler{enums.EventOrderNotification: flaky})
	ctx := context.Background()

	key := h.emit(t, enums.EventOrderNotification, "ORD5", payloads.OrderNotificationEffect{OrderID: "ORD5", Kind: payloads.NotificationOrderPlaced})

	claimed, err := h.dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	row := h.row(t, key)
	assert.Equal(t, enums.OutboxStatusPending, row.Status)
	assert.Equal(t, 1, row.AttemptCount)

	claimed, err = h.dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, claimed, "retry waits for its backoff")

	h.clock.Advance(2 * time.Second)
	claimed, err = h.dispatcher.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)
	assert.Equal(t, 2, calls)
	assert.Equal(t, enums.OutboxStatusFailed, h.row(t, key).Status)

	open, err := h.cases.List(ctx, enums.ReconciliationOpen, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, enums.ReconcileEffectExhausted, open[0].Kind)
	assert.Equal(t, "effect_exhausted:order_notification:ORD5", open[0].DedupeKey)
}

func TestUndecodablePayloadIsTerminal(t *testing.T) {
	h := newHarness(t, 5, nil)
	key := h.emit(t, enums.EventWalletDebit, "ORD1", nil)

	err := h.dispatcher.DispatchOne(context.Background(), key)
	require.Error(t, err)
	assert.Equal(t, enums.OutboxStatusFailed, h.row(t, key).Status)
}

func TestCashbackCreditedOnceAndFlagged(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()
	h.order(t, customer, "ORD1", 0)

	p := payloads.CashbackCreditEffect{
		OrderID:       "ORD1",
		CustomerID:    customer,
		AmountMinor:   1000,
		Percent:       decimal.RequireFromString("1.5"),
		PaymentMethod: enums.PaymentMethodCOD,
		Payable:       decimal.NewFromInt(1200),
	}
	key := h.emit(t, enums.EventCashbackCredit, "ORD1", p)
	require.NoError(t, h.dispatcher.DispatchOne(ctx, key))
	assert.Equal(t, int64(1000), h.balance(t, customer))

	order, err := h.orders.FindByOrderID(ctx, "ORD1")
	require.NoError(t, err)
	assert.True(t, order.CashbackCredited)

	handler, err := NewCashbackCreditHandler(h.wallets, h.ledger, h.orders)
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, models.OutboxEvent{}, &p))
	assert.Equal(t, int64(1000), h.balance(t, customer))

	entry, err := h.ledger.FindByReference(ctx, enums.LedgerSourceCashback, "CSHBK_ORD1")
	require.NoError(t, err)
	assert.Equal(t, "1.5", entry.Metadata.CashbackPercent)
}

func TestRefundReversesDebit(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()
	h.fund(t, customer, 50000)
	h.order(t, customer, "ORD1", 50000)

	debitKey := h.emit(t, enums.EventWalletDebit, "ORD1", debitPayload("ORD1", customer, 50000))
	require.NoError(t, h.dispatcher.DispatchOne(ctx, debitKey))
	require.Equal(t, int64(0), h.balance(t, customer))

	refundKey := h.emit(t, enums.EventWalletRefund, "ORD1", payloads.WalletRefundEffect{OrderID: "ORD1", CustomerID: customer, Reason: "cancelled by admin"})
	require.NoError(t, h.dispatcher.DispatchOne(ctx, refundKey))
	assert.Equal(t, int64(50000), h.balance(t, customer))

	handler, err := NewWalletRefundHandler(h.ledger, h.outbox.Repository())
	require.NoError(t, err)
	require.NoError(t, handler.Handle(ctx, models.OutboxEvent{}, &payloads.WalletRefundEffect{OrderID: "ORD1"}))
	assert.Equal(t, int64(50000), h.balance(t, customer))

	reversal, err := h.ledger.FindByReference(ctx, enums.LedgerSourceReversal, "REV_ORD1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled by admin", reversal.Metadata.Reason)
}

func TestRefundWaitsForPendingDebit(t *testing.T) {
	h := newHarness(t, 5, nil)
	ctx := context.Background()
	customer := uuid.New()

	handler, err := NewWalletRefundHandler(h.ledger, h.outbox.Repository())
	require.NoError(t, err)
	refund := &payloads.WalletRefundEffect{OrderID: "ORD1", CustomerID: customer}

	// No debit was ever queued: nothing to refund.
	require.NoError(t, handler.Handle(ctx, models.OutboxEvent{}, refund))

	h.emit(t, enums.EventWalletDebit, "ORD1", debitPayload("ORD1", customer, 100))
	err = handler.Handle(ctx, models.OutboxEvent{}, refund)
	assert.True(t, errors.Is(err, errDebitInFlight))
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []*gcppubsub.Message
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return fakeResult{err: p.err}
}

type fakeResult struct{ err error }

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "msg-1", nil
}

type memoryDedupe struct {
	seen    map[string]bool
	deleted int
}

func (m *memoryDedupe) CheckAndMarkProcessed(_ context.Context, consumer, id string) (bool, error) {
	key := consumer + ":" + id
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memoryDedupe) Delete(_ context.Context, consumer, id string) error {
	delete(m.seen, consumer+":"+id)
	m.deleted++
	return nil
}

func TestNotificationPublishesOncePerRow(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	dedupe := &memoryDedupe{seen: map[string]bool{}}
	handler, err := NewNotificationHandler(NotifierParams{Logger: logg, Dedupe: dedupe})
	require.NoError(t, err)
	pub := &fakePublisher{}
	handler.publisher = pub

	event := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderNotification}
	p := &payloads.OrderNotificationEffect{OrderID: "ORD1", Kind: payloads.NotificationOrderPlaced}
	require.NoError(t, handler.Handle(context.Background(), event, p))
	require.NoError(t, handler.Handle(context.Background(), event, p))

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "ORD1", pub.messages[0].Attributes["order_id"])
	assert.Equal(t, "order_placed", pub.messages[0].Attributes["kind"])
}

func TestNotificationFailureClearsDedupe(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	dedupe := &memoryDedupe{seen: map[string]bool{}}
	handler, err := NewNotificationHandler(NotifierParams{Logger: logg, Dedupe: dedupe})
	require.NoError(t, err)
	handler.publisher = &fakePublisher{err: errors.New("deadline exceeded")}

	event := models.OutboxEvent{ID: uuid.New()}
	err = handler.Handle(context.Background(), event, &payloads.OrderNotificationEffect{OrderID: "ORD1"})
	require.Error(t, err)
	assert.Equal(t, 1, dedupe.deleted)
	assert.Empty(t, dedupe.seen)
}

func TestNotificationWithoutTopicOnlyLogs(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	handler, err := NewNotificationHandler(NotifierParams{Logger: logg})
	require.NoError(t, err)
	require.NoError(t, handler.Handle(context.Background(), models.OutboxEvent{}, &payloads.OrderNotificationEffect{OrderID: "ORD1"}))

	err = handler.Handle(context.Background(), models.OutboxEvent{}, "not a payload")
	var nonRetry registry.NonRetryableError
	assert.True(t, errors.As(err, &nonRetry))
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	d := &Dispatcher{retryBase: time.Second, retryMax: 5 * time.Second}
	assert.Equal(t, time.Second, d.backoff(1))
	assert.Equal(t, 2*time.Second, d.backoff(2))
	assert.Equal(t, 4*time.Second, d.backoff(3))
	assert.Equal(t, 5*time.Second, d.backoff(4))
}
