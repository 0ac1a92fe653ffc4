package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/internal/settlement"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

type orderResponse struct {
	OrderID               string                 `json:"order_id"`
	InvoiceNumber         *string                `json:"invoice_number,omitempty"`
	CustomerID            uuid.UUID              `json:"customer_id"`
	Kind                  enums.OrderKind        `json:"kind"`
	OrderStatus           enums.OrderStatus      `json:"order_status"`
	PaymentMethod         enums.PaymentMethod    `json:"payment_method"`
	PaymentStatus         enums.PaymentStatus    `json:"payment_status"`
	Items                 []models.OrderLineItem `json:"items"`
	BasketID              *uuid.UUID             `json:"basket_id,omitempty"`
	VegetablesTotal       decimal.Decimal        `json:"vegetables_total"`
	BasketPrice           decimal.Decimal        `json:"basket_price"`
	CouponCode            *string                `json:"coupon_code,omitempty"`
	CouponDiscount        decimal.Decimal        `json:"coupon_discount"`
	DeliveryCharges       decimal.Decimal        `json:"delivery_charges"`
	TotalAmount           decimal.Decimal        `json:"total_amount"`
	WalletCreditUsed      decimal.Decimal        `json:"wallet_credit_used"`
	FinalPayableAmount    decimal.Decimal        `json:"final_payable_amount"`
	CashbackAmount        decimal.Decimal        `json:"cashback_amount"`
	CashbackCredited      bool                   `json:"cashback_credited"`
	FulfillmentHold       bool                   `json:"fulfillment_hold"`
	FulfillmentHoldReason *string                `json:"fulfillment_hold_reason,omitempty"`
	CancelledAt           *time.Time             `json:"cancelled_at,omitempty"`
	DeliveredAt           *time.Time             `json:"delivered_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
}

func newOrderResponse(o *models.Order) *orderResponse {
	if o == nil {
		return nil
	}
	return &orderResponse{
		OrderID:               o.OrderID,
		InvoiceNumber:         o.InvoiceNumber,
		CustomerID:            o.CustomerID,
		Kind:                  o.Kind,
		OrderStatus:           o.OrderStatus,
		PaymentMethod:         o.PaymentMethod,
		PaymentStatus:         o.PaymentStatus,
		Items:                 o.Items,
		BasketID:              o.BasketID,
		VegetablesTotal:       o.VegetablesTotal,
		BasketPrice:           o.BasketPrice,
		CouponCode:            o.CouponCode,
		CouponDiscount:        o.CouponDiscount,
		DeliveryCharges:       o.DeliveryCharges,
		TotalAmount:           o.TotalAmount,
		WalletCreditUsed:      o.WalletCreditUsed,
		FinalPayableAmount:    o.FinalPayableAmount,
		CashbackAmount:        o.CashbackAmount,
		CashbackCredited:      o.CashbackCredited,
		FulfillmentHold:       o.FulfillmentHold,
		FulfillmentHoldReason: o.FulfillmentHoldReason,
		CancelledAt:           o.CancelledAt,
		DeliveredAt:           o.DeliveredAt,
		CreatedAt:             o.CreatedAt,
	}
}

type placeOrderResponse struct {
	Order           *orderResponse              `json:"order,omitempty"`
	Quote           *pricing.Quote              `json:"quote"`
	PaymentIntent   *settlement.PaymentIntent   `json:"payment_intent,omitempty"`
	WalletShortfall *settlement.WalletShortfall `json:"wallet_shortfall,omitempty"`
}

func newPlaceOrderResponse(r *settlement.PlaceOrderResult) placeOrderResponse {
	return placeOrderResponse{
		Order:           newOrderResponse(r.Order),
		Quote:           r.Quote,
		PaymentIntent:   r.PaymentIntent,
		WalletShortfall: r.WalletShortfall,
	}
}

type verifyPaymentResponse struct {
	Order                  *orderResponse `json:"order"`
	ReconciliationRequired bool           `json:"reconciliation_required"`
}

type walletResponse struct {
	WalletID   uuid.UUID          `json:"wallet_id"`
	CustomerID uuid.UUID          `json:"customer_id"`
	Status     enums.WalletStatus `json:"status"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newWalletResponse(w *models.Wallet) *walletResponse {
	if w == nil {
		return nil
	}
	return &walletResponse{WalletID: w.ID, CustomerID: w.CustomerID, Status: w.Status, UpdatedAt: w.UpdatedAt}
}

// ledgerEntryResponse reports amounts in minor units.
type ledgerEntryResponse struct {
	ID             uuid.UUID               `json:"id"`
	Seq            int64                   `json:"seq"`
	Type           enums.LedgerEntryType   `json:"type"`
	Source         enums.LedgerSource      `json:"source"`
	ReferenceID    string                  `json:"reference_id"`
	Amount         int64                   `json:"amount"`
	OpeningBalance int64                   `json:"opening_balance"`
	ClosingBalance int64                   `json:"closing_balance"`
	Status         enums.LedgerEntryStatus `json:"status"`
	Description    string                  `json:"description,omitempty"`
	Metadata       models.LedgerMetadata   `json:"metadata"`
	ReversalOf     *uuid.UUID              `json:"reversal_of,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

func newLedgerEntryResponse(e *models.WalletTransaction) *ledgerEntryResponse {
	if e == nil {
		return nil
	}
	return &ledgerEntryResponse{
		ID:             e.ID,
		Seq:            e.Seq,
		Type:           e.Type,
		Source:         e.Source,
		ReferenceID:    e.ReferenceID,
		Amount:         e.Amount,
		OpeningBalance: e.OpeningBalance,
		ClosingBalance: e.ClosingBalance,
		Status:         e.Status,
		Description:    e.Description,
		Metadata:       e.Metadata,
		ReversalOf:     e.ReversalOf,
		CreatedAt:      e.CreatedAt,
	}
}

type walletOverviewResponse struct {
	Wallet  *walletResponse        `json:"wallet"`
	Balance int64                  `json:"balance"`
	Entries []*ledgerEntryResponse `json:"entries"`
}

func newWalletOverviewResponse(o *wallets.Overview) walletOverviewResponse {
	entries := make([]*ledgerEntryResponse, 0, len(o.Entries))
	for i := range o.Entries {
		entries = append(entries, newLedgerEntryResponse(&o.Entries[i]))
	}
	return walletOverviewResponse{Wallet: newWalletResponse(o.Wallet), Balance: o.Balance, Entries: entries}
}

type reverseResponse struct {
	Original *ledgerEntryResponse `json:"original"`
	Reversal *ledgerEntryResponse `json:"reversal"`
}

type caseResponse struct {
	ID               uuid.UUID                  `json:"id"`
	Kind             enums.ReconciliationKind   `json:"kind"`
	OrderID          *string                    `json:"order_id,omitempty"`
	CustomerID       *uuid.UUID                 `json:"customer_id,omitempty"`
	GatewayOrderID   *string                    `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string                    `json:"gateway_payment_id,omitempty"`
	AmountMinor      int64                      `json:"amount_minor"`
	Details          models.CaseDetails         `json:"details,omitempty"`
	Status           enums.ReconciliationStatus `json:"status"`
	ResolvedAt       *time.Time                 `json:"resolved_at,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
}

func newCaseResponses(rows []models.ReconciliationCase) []caseResponse {
	out := make([]caseResponse, 0, len(rows))
	for _, c := range rows {
		out = append(out, caseResponse{
			ID:               c.ID,
			Kind:             c.Kind,
			OrderID:          c.OrderID,
			CustomerID:       c.CustomerID,
			GatewayOrderID:   c.GatewayOrderID,
			GatewayPaymentID: c.GatewayPaymentID,
			AmountMinor:      c.AmountMinor,
			Details:          c.Details,
			Status:           c.Status,
			ResolvedAt:       c.ResolvedAt,
			CreatedAt:        c.CreatedAt,
		})
	}
	return out
}
