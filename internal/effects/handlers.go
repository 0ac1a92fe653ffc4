package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/registry"
)

// CashbackReference is the ledger reference of an order's cashback credit.
func CashbackReference(orderID string) string {
	return "CSHBK_" + orderID
}

type walletOpener interface {
	GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.Wallet, error)
}

type orderStore interface {
	FindByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	MarkCashbackCredited(ctx context.Context, orderID string, at time.Time) (bool, error)
}

type effectLookup interface {
	FindByDedupeKey(ctx context.Context, dedupeKey string) (*models.OutboxEvent, error)
}

// WalletDebitHandler posts the order_payment debit for wallet credit an order
// applied. The order id is the ledger reference, so a replay is a no-op.
type WalletDebitHandler struct {
	wallets walletOpener
	ledger  ledger.Service
	orders  orderStore
}

func NewWalletDebitHandler(wallets walletOpener, ledgerSvc ledger.Service, orders orderStore) (*WalletDebitHandler, error) {
	if wallets == nil || ledgerSvc == nil || orders == nil {
		return nil, errors.New("wallet debit handler requires wallets, ledger and orders")
	}
	return &WalletDebitHandler{wallets: wallets, ledger: ledgerSvc, orders: orders}, nil
}

func (h *WalletDebitHandler) Handle(ctx context.Context, _ models.OutboxEvent, payload any) error {
	p, ok := payload.(*payloads.WalletDebitEffect)
	if !ok {
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T", payload))
	}
	if p.AmountMinor <= 0 {
		return nil
	}

	order, err := h.orders.FindByOrderID(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return registry.NewNonRetryableError(fmt.Errorf("order %s not found", p.OrderID))
		}
		return err
	}
	// A cancelled order never charges the wallet.
	if order.OrderStatus == enums.OrderStatusCancelled {
		return nil
	}

	wallet, err := h.wallets.GetOrCreate(ctx, p.CustomerID)
	if err != nil {
		return err
	}
	_, err = h.ledger.PostDebit(ctx, ledger.PostInput{
		WalletID:    wallet.ID,
		Source:      enums.LedgerSourceOrderPayment,
		ReferenceID: p.OrderID,
		Amount:      p.AmountMinor,
		Description: "Wallet payment for order " + p.OrderID,
		Metadata: models.LedgerMetadata{
			OrderID:       p.OrderID,
			PaymentMethod: string(p.PaymentMethod),
			OrderTotal:    p.OrderTotal.StringFixed(2),
		},
	})
	return classifyPosting(err)
}

// CashbackCreditHandler credits earned cashback once per order and flags the
// order as credited.
type CashbackCreditHandler struct {
	wallets walletOpener
	ledger  ledger.Service
	orders  orderStore
	now     func() time.Time
}

func NewCashbackCreditHandler(wallets walletOpener, ledgerSvc ledger.Service, orders orderStore) (*CashbackCreditHandler, error) {
	if wallets == nil || ledgerSvc == nil || orders == nil {
		return nil, errors.New("cashback handler requires wallets, ledger and orders")
	}
	return &CashbackCreditHandler{wallets: wallets, ledger: ledgerSvc, orders: orders, now: time.Now}, nil
}

func (h *CashbackCreditHandler) Handle(ctx context.Context, _ models.OutboxEvent, payload any) error {
	p, ok := payload.(*payloads.CashbackCreditEffect)
	if !ok {
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T", payload))
	}
	if p.AmountMinor <= 0 {
		return nil
	}

	order, err := h.orders.FindByOrderID(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return registry.NewNonRetryableError(fmt.Errorf("order %s not found", p.OrderID))
		}
		return err
	}
	if order.OrderStatus == enums.OrderStatusCancelled || order.CashbackCredited {
		return nil
	}

	wallet, err := h.wallets.GetOrCreate(ctx, p.CustomerID)
	if err != nil {
		return err
	}
	_, err = h.ledger.PostCredit(ctx, ledger.PostInput{
		WalletID:    wallet.ID,
		Source:      enums.LedgerSourceCashback,
		ReferenceID: CashbackReference(p.OrderID),
		Amount:      p.AmountMinor,
		Description: "Cashback for order " + p.OrderID,
		Metadata: models.LedgerMetadata{
			OrderID:         p.OrderID,
			PaymentMethod:   string(p.PaymentMethod),
			OrderTotal:      p.Payable.StringFixed(2),
			CashbackPercent: p.Percent.String(),
		},
	})
	if err := classifyPosting(err); err != nil {
		return err
	}
	if _, err := h.orders.MarkCashbackCredited(ctx, p.OrderID, h.now()); err != nil {
		return fmt.Errorf("flag cashback credited: %w", err)
	}
	return nil
}

// WalletRefundHandler reverses the order's wallet debit after cancellation.
type WalletRefundHandler struct {
	ledger  ledger.Service
	effects effectLookup
}

func NewWalletRefundHandler(ledgerSvc ledger.Service, effects effectLookup) (*WalletRefundHandler, error) {
	if ledgerSvc == nil || effects == nil {
		return nil, errors.New("wallet refund handler requires ledger and outbox lookup")
	}
	return &WalletRefundHandler{ledger: ledgerSvc, effects: effects}, nil
}

// errDebitInFlight keeps the refund queued until the debit settles.
var errDebitInFlight = errors.New("wallet debit for order is still in flight")

func (h *WalletRefundHandler) Handle(ctx context.Context, _ models.OutboxEvent, payload any) error {
	p, ok := payload.(*payloads.WalletRefundEffect)
	if !ok {
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T", payload))
	}

	entry, err := h.ledger.FindByReference(ctx, enums.LedgerSourceOrderPayment, p.OrderID)
	if err != nil {
		if !errors.Is(err, ledger.ErrEntryNotFound) {
			return err
		}
		debit, lerr := h.effects.FindByDedupeKey(ctx, outbox.DedupeKey(enums.EventWalletDebit, p.OrderID))
		if lerr != nil {
			if errors.Is(lerr, gorm.ErrRecordNotFound) {
				return nil
			}
			return lerr
		}
		if debit.Status == enums.OutboxStatusPending || debit.Status == enums.OutboxStatusProcessing {
			return errDebitInFlight
		}
		return nil
	}

	reason := p.Reason
	if reason == "" {
		reason = "order cancelled"
	}
	_, err = h.ledger.Reverse(ctx, entry.ID, reason)
	if err == nil || errors.Is(err, ledger.ErrAlreadyReversed) {
		return nil
	}
	return err
}

// classifyPosting treats a duplicate reference as already applied and stops
// retries for failures another attempt cannot fix.
func classifyPosting(err error) error {
	switch {
	case err == nil, errors.Is(err, ledger.ErrDuplicateReference):
		return nil
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrWalletInactive),
		pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		return registry.NewNonRetryableError(err)
	default:
		return err
	}
}
