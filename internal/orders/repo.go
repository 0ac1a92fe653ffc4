package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("gateway_payment_id = ?", paymentID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByCustomer(ctx context.Context, q listQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("customer_id = ?", q.customerID)
	if q.status != "" {
		query = query.Where("order_status = ?", q.status)
	}
	if q.cursor != nil {
		at := q.cursor.CreatedAt.UTC()
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, q.cursor.ID)
	}
	var rows []models.Order
	err := query.Order("created_at DESC").Order("id DESC").Limit(q.limit).Find(&rows).Error
	return rows, err
}

func (r *repository) TransitionStatus(ctx context.Context, orderID string, from, to enums.OrderStatus, updates map[string]any) (bool, error) {
	values := map[string]any{"order_status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ? AND order_status = ?", orderID, from).
		Updates(values)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkCashbackCredited(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ? AND cashback_credited = ?", orderID, false).
		Updates(map[string]any{
			"cashback_credited":    true,
			"cashback_credited_at": at.UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) SetInvoiceNumber(ctx context.Context, orderID, invoice string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ? AND invoice_number IS NULL", orderID).
		Update("invoice_number", invoice)
	return res.RowsAffected == 1, res.Error
}

// ListMissingWalletDebit finds orders that applied wallet credit but have no
// order_payment ledger entry.
func (r *repository) ListMissingWalletDebit(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("wallet_credit_used > 0 AND order_status <> ? AND created_at < ?", enums.OrderStatusCancelled, before.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM wallet_transactions wt WHERE wt.source = ? AND wt.reference_id = orders.order_id)", enums.LedgerSourceOrderPayment).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListUncreditedCashback(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("cashback_eligible = ? AND cashback_credited = ? AND cashback_amount > 0", true, false).
		Where("order_status <> ? AND created_at < ?", enums.OrderStatusCancelled, before.UTC()).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) FindAttempt(ctx context.Context, gatewayOrderID string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) CloseAttempt(ctx context.Context, id uuid.UUID, status enums.PaymentAttemptStatus, orderID *string) (bool, error) {
	updates := map[string]any{"status": status}
	if orderID != nil {
		updates["order_id"] = *orderID
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ? AND status = ?", id, enums.PaymentAttemptCreated).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// ExpireAttempts fails intents the customer never completed.
func (r *repository) ExpireAttempts(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("status = ? AND created_at < ?", enums.PaymentAttemptCreated, before.UTC()).
		Update("status", enums.PaymentAttemptFailed)
	return res.RowsAffected, res.Error
}
