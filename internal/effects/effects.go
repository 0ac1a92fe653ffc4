// Package effects applies the settlement side effects queued in the outbox:
// wallet debits, cashback credits, wallet refunds and order notifications.
package effects

import (
	"errors"

	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

type Deps struct {
	Wallets  walletOpener
	Ledger   ledger.Service
	Orders   orderStore
	Outbox   effectLookup
	Notifier *NotificationHandler
}

// NewHandlers builds the handler set shared by the worker and inline dispatch.
func NewHandlers(d Deps) (map[enums.OutboxEventType]Handler, error) {
	if d.Notifier == nil {
		return nil, errors.New("notification handler is required")
	}
	debit, err := NewWalletDebitHandler(d.Wallets, d.Ledger, d.Orders)
	if err != nil {
		return nil, err
	}
	cashback, err := NewCashbackCreditHandler(d.Wallets, d.Ledger, d.Orders)
	if err != nil {
		return nil, err
	}
	refund, err := NewWalletRefundHandler(d.Ledger, d.Outbox)
	if err != nil {
		return nil, err
	}
	return map[enums.OutboxEventType]Handler{
		enums.EventWalletDebit:       debit,
		enums.EventCashbackCredit:    cashback,
		enums.EventWalletRefund:      refund,
		enums.EventOrderNotification: d.Notifier,
	}, nil
}
