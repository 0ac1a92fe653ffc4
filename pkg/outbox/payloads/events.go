package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// WalletDebitEffect charges the wallet credit an order applied.
type WalletDebitEffect struct {
	OrderID       string              `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	AmountMinor   int64               `json:"amount_minor"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	OrderTotal    decimal.Decimal     `json:"order_total"`
}

// CashbackCreditEffect credits earned cashback. The ledger reference is
// CSHBK_<order_id>.
type CashbackCreditEffect struct {
	OrderID       string              `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	AmountMinor   int64               `json:"amount_minor"`
	Percent       decimal.Decimal     `json:"percent"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Payable       decimal.Decimal     `json:"payable"`
}

// OrderNotificationEffect tells the customer about an order change.
type OrderNotificationEffect struct {
	OrderID       string              `json:"order_id"`
	CustomerID    uuid.UUID           `json:"customer_id"`
	Kind          string              `json:"kind"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	InvoiceNumber string              `json:"invoice_number,omitempty"`
}

// Notification kinds.
const (
	NotificationOrderPlaced   = "order_placed"
	NotificationStatusChanged = "status_changed"
)

// WalletRefundEffect reverses the order's wallet debit after cancellation.
type WalletRefundEffect struct {
	OrderID    string    `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Reason     string    `json:"reason"`
	Actor      string    `json:"actor,omitempty"`
}
