package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/greenbasket-backend/internal/effects"
	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/sequence"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/gateway"
)

func (s *service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	method := req.PaymentMethod
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", method))
	}
	customer, err := s.customers.Resolve(ctx, req.Customer)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithCustomerID(ctx, customer.ID.String())
	ctx = s.logg.WithField(ctx, "payment_method", string(method))

	p, err := s.price(ctx, req.Cart, &customer.ID, method)
	if err != nil {
		s.observe(method, "rejected")
		return nil, err
	}

	switch method {
	case enums.PaymentMethodWallet:
		return s.placeWallet(ctx, req.Cart, customer.ID, p)
	case enums.PaymentMethodOnline:
		return s.openPayment(ctx, req, customer.ID, p)
	default:
		return s.placeCOD(ctx, req.Cart, customer.ID, p)
	}
}

// placeCOD writes the order and tries the wallet debit inline. A failed debit
// stays on the outbox for the worker; the order is what the customer owes.
func (s *service) placeCOD(ctx context.Context, cart Cart, customerID uuid.UUID, p *priced) (*PlaceOrderResult, error) {
	status := enums.PaymentStatusPending
	if p.quote.FinalPayableAmount.IsZero() {
		status = enums.PaymentStatusCompleted
	}
	order, err := s.placeWithStock(ctx, cart, customerID, p, status)
	if err != nil {
		s.observe(enums.PaymentMethodCOD, "failed")
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.OrderID)
	if err := s.applyWalletDebit(ctx, order); err != nil {
		s.logg.Error(ctx, "wallet debit deferred to effects worker", err)
	}
	s.observe(enums.PaymentMethodCOD, "placed")
	s.logg.Info(ctx, "order placed")
	return &PlaceOrderResult{Order: order, Quote: p.quote}, nil
}

// placeWallet requires the balance to cover the whole total. The debit must
// land before the order is reported placed; when it does not, the order is
// kept and handed to reconciliation.
func (s *service) placeWallet(ctx context.Context, cart Cart, customerID uuid.UUID, p *priced) (*PlaceOrderResult, error) {
	q := p.quote
	if q.FinalPayableAmount.IsPositive() {
		s.observe(enums.PaymentMethodWallet, "shortfall")
		return &PlaceOrderResult{
			Quote: q,
			WalletShortfall: &WalletShortfall{
				Total:     q.TotalAmount,
				Available: q.WalletBalance,
				Shortfall: q.FinalPayableAmount,
			},
		}, nil
	}

	order, err := s.placeWithStock(ctx, cart, customerID, p, enums.PaymentStatusCompleted)
	if err != nil {
		s.observe(enums.PaymentMethodWallet, "failed")
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.OrderID)

	err = s.applyWalletDebit(ctx, order)
	if errors.Is(err, effects.ErrEffectBusy) {
		// the worker claimed it between commit and dispatch
		s.logg.Warn(ctx, "wallet debit already in progress")
		err = nil
	}
	if err != nil {
		s.observe(enums.PaymentMethodWallet, "debit_failed")
		s.openCase(ctx, reconcile.CaseInput{
			Kind:        enums.ReconcileWalletDebitFailed,
			OrderID:     order.OrderID,
			CustomerID:  &customerID,
			AmountMinor: q.WalletCreditUsedMinor(),
			Details: map[string]string{
				"payment_method": string(enums.PaymentMethodWallet),
				"cause":          err.Error(),
			},
		})
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "wallet debit failed; order recorded for reconciliation").
			WithDetails(map[string]any{"order_id": order.OrderID, "reason": "wallet_debit_failed"})
	}

	s.observe(enums.PaymentMethodWallet, "placed")
	s.logg.Info(ctx, "order placed")
	return &PlaceOrderResult{Order: order, Quote: q}, nil
}

// placeWithStock is the shared COD and WALLET sequence: allocate the order
// id, deduct stock, write the order. Stock is given back if the write fails.
func (s *service) placeWithStock(ctx context.Context, cart Cart, customerID uuid.UUID, p *priced, status enums.PaymentStatus) (*models.Order, error) {
	if err := checkIntegrity(p.quote); err != nil {
		return nil, err
	}
	orderID, err := s.sequence.Next(ctx, sequence.ScopeOrder)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID)

	if err := s.inventory.Reserve(ctx, p.stock, inventory.Deduct); err != nil {
		return nil, err
	}
	order := newOrder(orderID, customerID, cart.BasketID, p, status)
	if err := s.persist(ctx, draft{order: order, priced: p, actor: customerActor(customerID)}); err != nil {
		s.restoreStock(ctx, p, err)
		return nil, err
	}
	return order, nil
}

// openPayment is phase one of an ONLINE order: open a gateway intent for the
// payable amount and remember the request for verification. No stock moves
// and no order exists yet.
func (s *service) openPayment(ctx context.Context, req PlaceOrderRequest, customerID uuid.UUID, p *priced) (*PlaceOrderResult, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "online payments are not configured")
	}
	q := p.quote
	if !q.FinalPayableAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "nothing left to pay online; use the wallet").
			WithDetails(map[string]any{"reason": "zero_payable"})
	}
	if err := checkIntegrity(q); err != nil {
		return nil, err
	}

	amount := q.FinalPayableMinor()
	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  receipt,
		Notes:    map[string]string{"customer_id": customerID.String()},
	})
	if err != nil {
		s.observe(enums.PaymentMethodOnline, "gateway_error")
		return nil, err
	}
	if intent.Amount != 0 && intent.Amount != amount {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "gateway intent amount differs from payable").
			WithDetails(map[string]any{"expected": amount, "intent": intent.Amount})
	}

	stored := req
	stored.PaymentMethod = enums.PaymentMethodOnline
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment request")
	}
	attempt := &models.PaymentAttempt{
		GatewayOrderID:    intent.ID,
		CustomerID:        customerID,
		AmountMinor:       amount,
		WalletCreditMinor: pricing.ToMinor(q.WalletCreditUsed),
		Currency:          s.currency,
		Receipt:           receipt,
		Request:           raw,
		Status:            enums.PaymentAttemptCreated,
	}
	if err := s.orders.CreateAttempt(ctx, attempt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment attempt")
	}

	s.observe(enums.PaymentMethodOnline, "intent_created")
	s.logg.Info(s.logg.WithField(ctx, "gateway_order_id", intent.ID), "payment intent created")
	return &PlaceOrderResult{
		Quote: q,
		PaymentIntent: &PaymentIntent{
			GatewayOrderID: intent.ID,
			KeyID:          s.keyID,
			Amount:         amount,
			Currency:       s.currency,
			Receipt:        receipt,
			CustomerID:     customerID,
		},
	}, nil
}

// openCase records a case and only logs when that fails; the caller already
// has an error to return.
func (s *service) openCase(ctx context.Context, in reconcile.CaseInput) {
	if _, _, err := s.cases.Open(context.WithoutCancel(ctx), in); err != nil {
		s.logg.Error(ctx, "failed to open reconciliation case", err)
	}
}
