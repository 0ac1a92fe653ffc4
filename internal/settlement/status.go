package settlement

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/inventory"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/internal/sequence"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
)

// UpdateOrderStatus applies a guarded transition. Entering cancelled gives the
// stock back in the same transaction and queues the wallet refund; entering
// delivered settles COD payment and assigns the invoice number. Repeating the
// current status is a no-op.
func (s *service) UpdateOrderStatus(ctx context.Context, req StatusUpdateRequest) (*models.Order, error) {
	if !req.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", req.Status))
	}
	order, err := s.orders.FindByOrderID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, orders.ErrOrderNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	ctx = s.logg.WithOrderID(ctx, order.OrderID)

	from := order.OrderStatus
	if from == req.Status {
		return order, nil
	}
	if !from.CanTransitionTo(req.Status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
			WithDetails(map[string]any{"from": string(from), "to": string(req.Status)})
	}

	now := s.now().UTC()
	updates := map[string]any{}
	var (
		restore []inventory.StockChange
		invoice string
	)
	switch req.Status {
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
		restore = stockToRestore(order)
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
		if order.PaymentMethod == enums.PaymentMethodCOD && order.PaymentStatus != enums.PaymentStatusCompleted {
			updates["payment_status"] = enums.PaymentStatusCompleted
		}
		if order.InvoiceNumber == nil {
			if invoice, err = s.sequence.Next(ctx, sequence.ScopeInvoice); err != nil {
				return nil, err
			}
		}
	}

	actor := &outbox.ActorRef{Role: "operator", ID: req.Actor}
	var updated *models.Order
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		ok, err := repo.TransitionStatus(ctx, order.OrderID, from, req.Status, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
				WithDetails(map[string]any{"from": string(from), "to": string(req.Status)})
		}
		if len(restore) > 0 {
			if err := s.inventory.ReserveTx(ctx, tx, restore, inventory.Restore); err != nil {
				return err
			}
		}
		if invoice != "" {
			if _, err := repo.SetInvoiceNumber(ctx, order.OrderID, invoice); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assign invoice number")
			}
		}
		if updated, err = repo.FindByOrderID(ctx, order.OrderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}

		if req.Status == enums.OrderStatusCancelled && updated.WalletCreditUsed.IsPositive() {
			refund := orderEvent(updated, enums.EventWalletRefund, "", actor, payloads.WalletRefundEffect{
				OrderID:    updated.OrderID,
				CustomerID: updated.CustomerID,
				Reason:     cancelReason(req.Reason),
				Actor:      req.Actor,
			})
			if _, err := s.outbox.Emit(ctx, tx, refund); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue wallet refund")
			}
		}
		if _, err := s.outbox.Emit(ctx, tx, notificationEvent(updated, payloads.NotificationStatusChanged, actor)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue status notification")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"from": string(from), "to": string(req.Status)}), "order status updated")
	if req.Status == enums.OrderStatusCancelled && updated.WalletCreditUsed.IsPositive() {
		if err := s.effects.DispatchOne(ctx, outbox.DedupeKey(enums.EventWalletRefund, updated.OrderID)); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "cause", err.Error()), "wallet refund deferred to effects worker")
		}
	}
	return updated, nil
}

func stockMovements(changes []inventory.StockChange) models.StockMovements {
	out := make(models.StockMovements, 0, len(changes))
	for _, c := range changes {
		out = append(out, models.StockMovement{ItemID: c.ItemID, Quantity: c.Quantity, Mode: c.Mode})
	}
	return out
}

// stockToRestore is the stock an order deducted when it was placed. Orders
// held for missing stock recorded none.
func stockToRestore(order *models.Order) []inventory.StockChange {
	out := make([]inventory.StockChange, 0, len(order.StockDeducted))
	for _, m := range order.StockDeducted {
		if m.Quantity > 0 {
			out = append(out, inventory.StockChange{ItemID: m.ItemID, Quantity: m.Quantity, Mode: m.Mode})
		}
	}
	return out
}

func cancelReason(reason string) string {
	if reason == "" {
		return "order cancelled"
	}
	return reason
}
