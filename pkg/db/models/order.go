package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// Order is a persisted customer order. Money columns are major currency
// units; ledger postings derived from them are converted to minor units.
type Order struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID               string              `gorm:"column:order_id;not null;uniqueIndex:ux_orders_order_id"`
	InvoiceNumber         *string             `gorm:"column:invoice_number;uniqueIndex:ux_orders_invoice_number"`
	CustomerID            uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	Kind                  enums.OrderKind     `gorm:"column:kind;not null"`
	PaymentMethod         enums.PaymentMethod `gorm:"column:payment_method;not null"`
	PaymentStatus         enums.PaymentStatus `gorm:"column:payment_status;not null"`
	OrderStatus           enums.OrderStatus   `gorm:"column:order_status;not null;default:'placed'"`
	Items                 OrderItems          `gorm:"column:items;type:jsonb;not null"`
	StockDeducted         StockMovements      `gorm:"column:stock_deducted;type:jsonb;not null;default:'[]'"`
	BasketID              *uuid.UUID          `gorm:"column:basket_id;type:uuid"`
	VegetablesTotal       decimal.Decimal     `gorm:"column:vegetables_total;type:numeric(12,2);not null;default:0"`
	BasketPrice           decimal.Decimal     `gorm:"column:basket_price;type:numeric(12,2);not null;default:0"`
	CouponCode            *string             `gorm:"column:coupon_code"`
	CouponDiscount        decimal.Decimal     `gorm:"column:coupon_discount;type:numeric(12,2);not null;default:0"`
	DeliveryCharges       decimal.Decimal     `gorm:"column:delivery_charges;type:numeric(12,2);not null;default:0"`
	TotalAmount           decimal.Decimal     `gorm:"column:total_amount;type:numeric(12,2);not null"`
	WalletCreditUsed      decimal.Decimal     `gorm:"column:wallet_credit_used;type:numeric(12,2);not null;default:0"`
	FinalPayableAmount    decimal.Decimal     `gorm:"column:final_payable_amount;type:numeric(12,2);not null"`
	CashbackEligible      bool                `gorm:"column:cashback_eligible;not null;default:false"`
	CashbackAmount        decimal.Decimal     `gorm:"column:cashback_amount;type:numeric(12,2);not null;default:0"`
	CashbackPercent       decimal.Decimal     `gorm:"column:cashback_percent;type:numeric(5,2);not null;default:0"`
	CashbackCredited      bool                `gorm:"column:cashback_credited;not null;default:false"`
	CashbackCreditedAt    *time.Time          `gorm:"column:cashback_credited_at"`
	GatewayOrderID        *string             `gorm:"column:gateway_order_id"`
	GatewayPaymentID      *string             `gorm:"column:gateway_payment_id;uniqueIndex:ux_orders_gateway_payment"`
	FulfillmentHold       bool                `gorm:"column:fulfillment_hold;not null;default:false"`
	FulfillmentHoldReason *string             `gorm:"column:fulfillment_hold_reason"`
	CancelledAt           *time.Time          `gorm:"column:cancelled_at"`
	DeliveredAt           *time.Time          `gorm:"column:delivered_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// OrderLineItem is the priced snapshot of one cart line or basket component.
// Quantity counts selector units (e.g. two "500g" packs).
type OrderLineItem struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Name      string          `json:"name"`
	Selector  string          `json:"selector"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderItems []OrderLineItem

func (i OrderItems) Value() (driver.Value, error) {
	if i == nil {
		i = OrderItems{}
	}
	return jsonValue(i)
}

func (i *OrderItems) Scan(src any) error {
	*i = OrderItems{}
	return scanJSON(src, i)
}

// StockMovement is what one order took from a catalog item, in the item's
// stock unit when the order was placed. Cancellation gives back exactly this.
type StockMovement struct {
	ItemID   uuid.UUID         `json:"item_id"`
	Quantity int64             `json:"quantity"`
	Mode     enums.PricingMode `json:"mode,omitempty"`
}

type StockMovements []StockMovement

func (m StockMovements) Value() (driver.Value, error) {
	if m == nil {
		m = StockMovements{}
	}
	return jsonValue(m)
}

func (m *StockMovements) Scan(src any) error {
	*m = StockMovements{}
	return scanJSON(src, m)
}
