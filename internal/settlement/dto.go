package settlement

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/internal/customers"
	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// Cart is what the client submits. Prices are never taken from it.
type Cart struct {
	Kind           enums.OrderKind      `json:"kind" validate:"required,oneof=custom basket"`
	Items          []inventory.CartLine `json:"items,omitempty" validate:"required_if=Kind custom,omitempty,max=100,dive"`
	BasketID       *uuid.UUID           `json:"basket_id,omitempty" validate:"required_if=Kind basket"`
	BasketQuantity int                  `json:"basket_quantity,omitempty" validate:"omitempty,min=1,max=20"`
	CouponCode     string               `json:"coupon_code,omitempty" validate:"omitempty,max=40"`
	UseWallet      bool                 `json:"use_wallet"`
}

func (c Cart) basketQuantity() int {
	if c.BasketQuantity <= 0 {
		return 1
	}
	return c.BasketQuantity
}

type QuoteRequest struct {
	Cart          Cart                `json:"cart" validate:"required"`
	CustomerID    *uuid.UUID          `json:"customer_id,omitempty"`
	PaymentMethod enums.PaymentMethod `json:"payment_method,omitempty" validate:"omitempty,oneof=COD ONLINE WALLET"`
}

type PlaceOrderRequest struct {
	Cart          Cart                   `json:"cart" validate:"required"`
	Customer      customers.ResolveInput `json:"customer" validate:"required"`
	PaymentMethod enums.PaymentMethod    `json:"payment_method" validate:"required,oneof=COD ONLINE WALLET"`
}

// PlaceOrderResult carries exactly one of Order, PaymentIntent or
// WalletShortfall.
type PlaceOrderResult struct {
	Order           *models.Order    `json:"order,omitempty"`
	Quote           *pricing.Quote   `json:"quote"`
	PaymentIntent   *PaymentIntent   `json:"payment_intent,omitempty"`
	WalletShortfall *WalletShortfall `json:"wallet_shortfall,omitempty"`
}

// PaymentIntent is handed to the client to open the gateway checkout.
type PaymentIntent struct {
	GatewayOrderID string    `json:"gateway_order_id"`
	KeyID          string    `json:"key_id,omitempty"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Receipt        string    `json:"receipt"`
	CustomerID     uuid.UUID `json:"customer_id"`
}

// WalletShortfall is returned instead of an order when a WALLET payment
// cannot cover the total. It is not an error.
type WalletShortfall struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" validate:"required,max=64"`
	GatewayPaymentID string `json:"gateway_payment_id" validate:"required,max=64"`
	Signature        string `json:"signature" validate:"required,hexadecimal,len=64"`
}

type VerifyPaymentResult struct {
	Order *models.Order `json:"order"`
	// ReconciliationRequired is set when the payment was captured but the
	// order could not be fulfilled as placed.
	ReconciliationRequired bool `json:"reconciliation_required"`
}

type StatusUpdateRequest struct {
	OrderID string            `json:"-"`
	Status  enums.OrderStatus `json:"status" validate:"required,oneof=placed processed shipped delivered cancelled"`
	Reason  string            `json:"reason,omitempty" validate:"omitempty,max=200"`
	Actor   string            `json:"-"`
}
