package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
)

// draft is an order about to be written together with its effects.
type draft struct {
	order     *models.Order
	priced    *priced
	attemptID *uuid.UUID
	hold      *reconcile.CaseInput
	actor     *outbox.ActorRef
}

func newOrder(orderID string, customerID uuid.UUID, basketID *uuid.UUID, p *priced, status enums.PaymentStatus) *models.Order {
	q := p.quote
	order := &models.Order{
		OrderID:            orderID,
		CustomerID:         customerID,
		Kind:               q.Kind,
		PaymentMethod:      q.PaymentMethod,
		PaymentStatus:      status,
		OrderStatus:        enums.OrderStatusPlaced,
		Items:              q.Lines,
		StockDeducted:      stockMovements(p.stock),
		CouponDiscount:     q.Coupon.Discount,
		DeliveryCharges:    q.DeliveryCharges,
		TotalAmount:        q.TotalAmount,
		WalletCreditUsed:   q.WalletCreditUsed,
		FinalPayableAmount: q.FinalPayableAmount,
		CashbackEligible:   q.Cashback.Eligible,
		CashbackAmount:     q.Cashback.Amount,
		CashbackPercent:    q.Cashback.Percent,
	}
	if q.Kind == enums.OrderKindBasket {
		order.BasketID = basketID
		order.BasketPrice = q.Subtotal
	} else {
		order.VegetablesTotal = q.Subtotal
	}
	if q.Coupon.Applied {
		code := q.Coupon.Code
		order.CouponCode = &code
	}
	return order
}

// persist writes the order, redeems the coupon, closes the payment attempt,
// opens any hold case and appends the order's effects in one transaction.
func (s *service) persist(ctx context.Context, d draft) error {
	if err := checkIntegrity(d.priced.quote); err != nil {
		return err
	}
	order := d.order
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "ux_orders_gateway_payment") {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment already settled").
					WithDetails(map[string]any{"gateway_payment_id": deref(order.GatewayPaymentID)})
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		if couponID := d.priced.couponID(); couponID != nil {
			if err := s.coupons.RedeemTx(ctx, tx, *couponID, order.CustomerID, order.OrderID); err != nil {
				return err
			}
		}
		if d.attemptID != nil {
			orderID := order.OrderID
			ok, err := repo.CloseAttempt(ctx, *d.attemptID, enums.PaymentAttemptVerified, &orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "close payment attempt")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment attempt already closed")
			}
		}
		if d.hold != nil {
			if _, _, err := s.cases.OpenTx(ctx, tx, *d.hold); err != nil {
				return err
			}
		}
		for _, event := range placementEffects(order, d.actor) {
			if _, err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue order effect")
			}
		}
		return nil
	})
}

func placementEffects(order *models.Order, actor *outbox.ActorRef) []outbox.DomainEvent {
	events := make([]outbox.DomainEvent, 0, 3)
	if order.WalletCreditUsed.IsPositive() {
		events = append(events, orderEvent(order, enums.EventWalletDebit, "", actor, payloads.WalletDebitEffect{
			OrderID:       order.OrderID,
			CustomerID:    order.CustomerID,
			AmountMinor:   pricing.ToMinor(order.WalletCreditUsed),
			PaymentMethod: order.PaymentMethod,
			OrderTotal:    order.TotalAmount,
		}))
	}
	if order.CashbackEligible && order.CashbackAmount.IsPositive() {
		events = append(events, orderEvent(order, enums.EventCashbackCredit, "", actor, payloads.CashbackCreditEffect{
			OrderID:       order.OrderID,
			CustomerID:    order.CustomerID,
			AmountMinor:   pricing.ToMinor(order.CashbackAmount),
			Percent:       order.CashbackPercent,
			PaymentMethod: order.PaymentMethod,
			Payable:       order.FinalPayableAmount,
		}))
	}
	events = append(events, notificationEvent(order, payloads.NotificationOrderPlaced, actor))
	return events
}

// notificationEvent keys each notification by order and status so every
// transition gets its own row.
func notificationEvent(order *models.Order, kind string, actor *outbox.ActorRef) outbox.DomainEvent {
	key := fmt.Sprintf("%s:%s:%s", enums.EventOrderNotification, order.OrderID, order.OrderStatus)
	return orderEvent(order, enums.EventOrderNotification, key, actor, payloads.OrderNotificationEffect{
		OrderID:       order.OrderID,
		CustomerID:    order.CustomerID,
		Kind:          kind,
		OrderStatus:   order.OrderStatus,
		PaymentMethod: order.PaymentMethod,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
		InvoiceNumber: deref(order.InvoiceNumber),
	})
}

func orderEvent(order *models.Order, eventType enums.OutboxEventType, dedupeKey string, actor *outbox.ActorRef, data any) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.OrderID,
		DedupeKey:     dedupeKey,
		Actor:         actor,
		Data:          data,
	}
}

// applyWalletDebit runs the order's wallet debit now instead of waiting for
// the worker.
func (s *service) applyWalletDebit(ctx context.Context, order *models.Order) error {
	if !order.WalletCreditUsed.IsPositive() {
		return nil
	}
	return s.effects.DispatchOne(ctx, outbox.DedupeKey(enums.EventWalletDebit, order.OrderID))
}

// restoreStock compensates a deduction whose order was never written. The
// original error is what the caller sees; a failed restore is logged loudly
// for the operator.
func (s *service) restoreStock(ctx context.Context, p *priced, cause error) {
	if len(p.stock) == 0 {
		return
	}
	if err := s.inventory.Reserve(context.WithoutCancel(ctx), p.stock, inventory.Restore); err != nil {
		s.logg.Error(ctx, "stock restore after failed order creation", multierr.Combine(cause, err))
		return
	}
	s.logg.Warn(ctx, "stock restored after failed order creation")
}

func customerActor(id uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{Role: "customer", ID: id.String()}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
