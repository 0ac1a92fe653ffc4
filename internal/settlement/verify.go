package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/internal/sequence"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/gateway"
)

const holdStockUnavailable = "stock_unavailable"

// VerifyPayment is phase two of an ONLINE order. Once the signature checks
// out the money has moved, so every later failure leaves a reconciliation
// case behind instead of dropping the payment.
func (s *service) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (result *VerifyPaymentResult, err error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "online payments are not configured")
	}
	req.GatewayOrderID = strings.TrimSpace(req.GatewayOrderID)
	req.GatewayPaymentID = strings.TrimSpace(req.GatewayPaymentID)
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway order id and payment id are required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"gateway_order_id":   req.GatewayOrderID,
		"gateway_payment_id": req.GatewayPaymentID,
	})

	if err := s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature); err != nil {
		s.observe(enums.PaymentMethodOnline, "signature_mismatch")
		s.logg.Warn(ctx, "payment signature rejected")
		return nil, err
	}

	if s.replay != nil {
		seen, gerr := s.replay.CheckAndMarkProcessed(ctx, replayConsumer, req.GatewayPaymentID)
		switch {
		case gerr != nil:
			s.logg.Error(ctx, "payment replay guard unavailable", gerr)
		case seen:
			s.observe(enums.PaymentMethodOnline, "replay")
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment verification already processed").
				WithDetails(map[string]any{"gateway_payment_id": req.GatewayPaymentID})
		default:
			defer func() {
				if err != nil {
					if derr := s.replay.Delete(context.WithoutCancel(ctx), replayConsumer, req.GatewayPaymentID); derr != nil {
						s.logg.Error(ctx, "failed to release payment replay guard", derr)
					}
				}
			}()
		}
	}

	existing, err := s.orders.FindByGatewayPaymentID(ctx, req.GatewayPaymentID)
	switch {
	case err == nil:
		s.observe(enums.PaymentMethodOnline, "replay")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment already settled").
			WithDetails(map[string]any{"order_id": existing.OrderID})
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup settled payment")
	}

	attempt, err := s.orders.FindAttempt(ctx, req.GatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment attempt not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment attempt")
	}
	ctx = s.logg.WithCustomerID(ctx, attempt.CustomerID.String())
	base := reconcile.CaseInput{
		CustomerID:       &attempt.CustomerID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		AmountMinor:      attempt.AmountMinor,
	}

	switch attempt.Status {
	case enums.PaymentAttemptVerified:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment attempt already settled").
			WithDetails(map[string]any{"order_id": deref(attempt.OrderID)})
	case enums.PaymentAttemptFailed:
		s.openCase(ctx, withKind(base, enums.ReconcilePaymentUnknownOutcome, map[string]string{"reason": "attempt_expired"}))
		return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "payment attempt expired; recorded for reconciliation").
			WithDetails(map[string]any{"reason": "payment_attempt_expired"})
	}

	var stored PlaceOrderRequest
	if err := json.Unmarshal(attempt.Request, &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode payment request")
	}
	customerID := attempt.CustomerID
	walletCredit := attempt.WalletCreditMinor
	p, err := s.priceWith(ctx, stored.Cart, &customerID, enums.PaymentMethodOnline, &walletCredit)
	if err != nil {
		s.openCase(ctx, withKind(base, enums.ReconcileAmountMismatch, map[string]string{"reason": "reprice_failed", "cause": err.Error()}))
		return nil, err
	}
	if got := p.quote.FinalPayableMinor(); got != attempt.AmountMinor {
		s.observe(enums.PaymentMethodOnline, "amount_mismatch")
		s.openCase(ctx, withKind(base, enums.ReconcileAmountMismatch, map[string]string{
			"expected_minor": strconv.FormatInt(attempt.AmountMinor, 10),
			"repriced_minor": strconv.FormatInt(got, 10),
		}))
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "repriced amount differs from the paid amount").
			WithDetails(map[string]any{"expected": attempt.AmountMinor, "repriced": got})
	}

	if s.fetchPay {
		if err := s.confirmCapture(ctx, req, attempt, base); err != nil {
			return nil, err
		}
	}

	orderID, err := s.sequence.Next(ctx, sequence.ScopeOrder)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID)
	base.OrderID = orderID

	order := newOrder(orderID, customerID, stored.Cart.BasketID, p, enums.PaymentStatusCompleted)
	order.GatewayOrderID = &req.GatewayOrderID
	order.GatewayPaymentID = &req.GatewayPaymentID
	d := draft{order: order, priced: p, attemptID: &attempt.ID, actor: customerActor(customerID)}

	reserveErr := s.inventory.Reserve(ctx, p.stock, inventory.Deduct)
	if reserveErr != nil {
		reason := holdStockUnavailable
		order.FulfillmentHold = true
		order.FulfillmentHoldReason = &reason
		order.StockDeducted = nil
		order.CashbackEligible = false
		order.CashbackAmount = decimal.Zero
		order.CashbackPercent = decimal.Zero
		hold := withKind(base, enums.ReconcileStockAfterCapture, map[string]string{"cause": reserveErr.Error()})
		d.hold = &hold
		s.logg.Warn(ctx, "stock unavailable after capture; order held")
	}

	if err := s.persist(ctx, d); err != nil {
		if reserveErr == nil {
			s.restoreStock(ctx, p, err)
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.openCase(ctx, withKind(base, enums.ReconcilePaymentUnknownOutcome, map[string]string{
				"reason": "order_persist_failed",
				"cause":  err.Error(),
			}))
		}
		return nil, err
	}

	if err := s.applyWalletDebit(ctx, order); err != nil {
		s.logg.Error(ctx, "wallet debit deferred to effects worker", err)
	}

	outcome := "verified"
	if reserveErr != nil {
		outcome = "held"
	}
	s.observe(enums.PaymentMethodOnline, outcome)
	s.logg.Info(ctx, "online payment settled")
	return &VerifyPaymentResult{Order: order, ReconciliationRequired: reserveErr != nil}, nil
}

// confirmCapture asks the gateway whether the money was actually taken. A
// timeout is an unknown outcome, never a failure.
func (s *service) confirmCapture(ctx context.Context, req VerifyPaymentRequest, attempt *models.PaymentAttempt, base reconcile.CaseInput) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.verifyWait)
	defer cancel()

	payment, err := s.gateway.FetchPayment(fetchCtx, req.GatewayPaymentID)
	if err != nil {
		if gateway.IsTimeout(err) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			s.observe(enums.PaymentMethodOnline, "unknown_outcome")
			s.openCase(ctx, withKind(base, enums.ReconcilePaymentUnknownOutcome, map[string]string{"reason": "fetch_timeout"}))
			return pkgerrors.Wrap(pkgerrors.CodeUnknownOutcome, err, "payment outcome unknown; recorded for reconciliation").
				WithDetails(map[string]any{"gateway_payment_id": req.GatewayPaymentID})
		}
		return err
	}
	if !payment.Captured() {
		return pkgerrors.New(pkgerrors.CodeBusinessRule, "payment has not been captured").
			WithDetails(map[string]any{"reason": "payment_not_captured", "status": payment.Status})
	}
	if payment.Amount != attempt.AmountMinor {
		s.openCase(ctx, withKind(base, enums.ReconcileAmountMismatch, map[string]string{
			"expected_minor": strconv.FormatInt(attempt.AmountMinor, 10),
			"captured_minor": strconv.FormatInt(payment.Amount, 10),
		}))
		return pkgerrors.New(pkgerrors.CodeIntegrity, "captured amount differs from the payment attempt").
			WithDetails(map[string]any{"expected": attempt.AmountMinor, "captured": payment.Amount})
	}
	return nil
}

func withKind(base reconcile.CaseInput, kind enums.ReconciliationKind, details map[string]string) reconcile.CaseInput {
	base.Kind = kind
	base.Details = details
	return base
}
