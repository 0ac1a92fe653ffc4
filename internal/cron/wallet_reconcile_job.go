package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
)

const (
	walletReconcileGrace = 15 * time.Minute
	walletReconcileBatch = 100
	walletReconcileName  = "wallet-reconcile"
)

type walletSweepReader interface {
	ListMissingWalletDebit(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	ListUncreditedCashback(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
}

type WalletReconcileJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Orders    walletSweepReader
	Outbox    outboxEmitter
	Grace     time.Duration
	BatchSize int
}

// NewWalletReconcileJob finds orders whose wallet debit or cashback credit
// never reached the ledger and puts the effect back on the outbox. Rows that
// already exist (pending, retrying or terminal) are left alone.
func NewWalletReconcileJob(params WalletReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = walletReconcileGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = walletReconcileBatch
	}
	return &walletReconcileJob{
		logg:   params.Logger,
		db:     params.DB,
		orders: params.Orders,
		outbox: params.Outbox,
		grace:  grace,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type walletReconcileJob struct {
	logg   *logger.Logger
	db     txRunner
	orders walletSweepReader
	outbox outboxEmitter
	grace  time.Duration
	batch  int
	now    func() time.Time
}

func (j *walletReconcileJob) Name() string { return walletReconcileName }

func (j *walletReconcileJob) Run(ctx context.Context) error {
	before := j.now().UTC().Add(-j.grace)

	debits, err := j.orders.ListMissingWalletDebit(ctx, before, j.batch)
	if err != nil {
		return fmt.Errorf("list missing wallet debits: %w", err)
	}
	cashbacks, err := j.orders.ListUncreditedCashback(ctx, before, j.batch)
	if err != nil {
		return fmt.Errorf("list uncredited cashback: %w", err)
	}

	var (
		errs    error
		emitted int
	)
	for i := range debits {
		ok, emitErr := j.emit(ctx, debitEvent(&debits[i], j.now()))
		if emitErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s wallet debit: %w", debits[i].OrderID, emitErr))
			continue
		}
		if ok {
			emitted++
			j.logg.Warn(j.logg.WithOrderID(ctx, debits[i].OrderID), "re-emitted missing wallet debit")
		}
	}
	for i := range cashbacks {
		ok, emitErr := j.emit(ctx, cashbackEvent(&cashbacks[i], j.now()))
		if emitErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s cashback: %w", cashbacks[i].OrderID, emitErr))
			continue
		}
		if ok {
			emitted++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"missing_debits":      len(debits),
		"uncredited_cashback": len(cashbacks),
		"emitted":             emitted,
	})
	j.logg.Info(logCtx, "wallet reconcile sweep complete")
	return errs
}

func (j *walletReconcileJob) emit(ctx context.Context, event outbox.DomainEvent) (bool, error) {
	var inserted bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.outbox.EmitIfNotExists(ctx, tx, event)
		inserted = ok
		return err
	})
	return inserted, err
}

func debitEvent(order *models.Order, now time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventWalletDebit,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.OrderID,
		Actor:         systemActor(walletReconcileName),
		OccurredAt:    now.UTC(),
		Data: payloads.WalletDebitEffect{
			OrderID:       order.OrderID,
			CustomerID:    order.CustomerID,
			AmountMinor:   pricing.ToMinor(order.WalletCreditUsed),
			PaymentMethod: order.PaymentMethod,
			OrderTotal:    order.TotalAmount,
		},
	}
}

func cashbackEvent(order *models.Order, now time.Time) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventCashbackCredit,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.OrderID,
		Actor:         systemActor(walletReconcileName),
		OccurredAt:    now.UTC(),
		Data: payloads.CashbackCreditEffect{
			OrderID:       order.OrderID,
			CustomerID:    order.CustomerID,
			AmountMinor:   pricing.ToMinor(order.CashbackAmount),
			Percent:       order.CashbackPercent,
			PaymentMethod: order.PaymentMethod,
			Payable:       order.FinalPayableAmount,
		},
	}
}
