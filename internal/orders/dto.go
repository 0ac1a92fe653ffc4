package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgpagination "github.com/angelmondragon/greenbasket-backend/pkg/pagination"
)

// ListParams pages a customer's orders newest first.
type ListParams struct {
	CustomerID uuid.UUID
	Status     enums.OrderStatus
	pkgpagination.Params
}

type listQuery struct {
	customerID uuid.UUID
	status     enums.OrderStatus
	limit      int
	cursor     *pkgpagination.Cursor
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	OrderID            string              `json:"order_id"`
	InvoiceNumber      *string             `json:"invoice_number,omitempty"`
	Kind               enums.OrderKind     `json:"kind"`
	OrderStatus        enums.OrderStatus   `json:"order_status"`
	PaymentMethod      enums.PaymentMethod `json:"payment_method"`
	PaymentStatus      enums.PaymentStatus `json:"payment_status"`
	TotalAmount        decimal.Decimal     `json:"total_amount"`
	WalletCreditUsed   decimal.Decimal     `json:"wallet_credit_used"`
	FinalPayableAmount decimal.Decimal     `json:"final_payable_amount"`
	CashbackAmount     decimal.Decimal     `json:"cashback_amount"`
	FulfillmentHold    bool                `json:"fulfillment_hold"`
	CreatedAt          time.Time           `json:"created_at"`
}

// OrderList is one page of summaries plus the cursor for the next page.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func toSummary(o models.Order) OrderSummary {
	return OrderSummary{
		OrderID:            o.OrderID,
		InvoiceNumber:      o.InvoiceNumber,
		Kind:               o.Kind,
		OrderStatus:        o.OrderStatus,
		PaymentMethod:      o.PaymentMethod,
		PaymentStatus:      o.PaymentStatus,
		TotalAmount:        o.TotalAmount,
		WalletCreditUsed:   o.WalletCreditUsed,
		FinalPayableAmount: o.FinalPayableAmount,
		CashbackAmount:     o.CashbackAmount,
		FulfillmentHold:    o.FulfillmentHold,
		CreatedAt:          o.CreatedAt,
	}
}
