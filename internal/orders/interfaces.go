package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// Repository persists orders and the online payment attempts that precede them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	FindByGatewayPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	ListByCustomer(ctx context.Context, q listQuery) ([]models.Order, error)
	// TransitionStatus moves the order only if it is still in from.
	TransitionStatus(ctx context.Context, orderID string, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	MarkCashbackCredited(ctx context.Context, orderID string, at time.Time) (bool, error)
	SetInvoiceNumber(ctx context.Context, orderID, invoice string) (bool, error)
	ListMissingWalletDebit(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	ListUncreditedCashback(ctx context.Context, before time.Time, limit int) ([]models.Order, error)

	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	FindAttempt(ctx context.Context, gatewayOrderID string) (*models.PaymentAttempt, error)
	// CloseAttempt moves a created attempt to status and links the order.
	CloseAttempt(ctx context.Context, id uuid.UUID, status enums.PaymentAttemptStatus, orderID *string) (bool, error)
	ExpireAttempts(ctx context.Context, before time.Time) (int64, error)
}
