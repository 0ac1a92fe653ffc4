package customers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

type Repository interface {
	Create(ctx context.Context, customer *models.Customer) error
	FindByPhone(ctx context.Context, phone string) (*models.Customer, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	UpdateContact(ctx context.Context, id uuid.UUID, name string, email *string) error
	CountCompletedOrders(ctx context.Context, customerID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *repository) FindByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) UpdateContact(ctx context.Context, id uuid.UUID, name string, email *string) error {
	updates := map[string]any{"name": name}
	if email != nil {
		updates["email"] = *email
	}
	return r.db.WithContext(ctx).Model(&models.Customer{}).Where("id = ?", id).Updates(updates).Error
}

// CountCompletedOrders counts paid orders that were not cancelled; it feeds
// the cashback first-order gate.
func (r *repository) CountCompletedOrders(ctx context.Context, customerID uuid.UUID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("customer_id = ? AND payment_status = ? AND order_status <> ?",
			customerID, enums.PaymentStatusCompleted, enums.OrderStatusCancelled).
		Count(&count).Error
	return int(count), err
}
