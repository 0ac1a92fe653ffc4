package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

type Coupon struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code             string              `gorm:"column:code;not null;uniqueIndex:ux_coupons_code"`
	Type             enums.CouponType    `gorm:"column:type;not null"`
	Value            decimal.Decimal     `gorm:"column:value;type:numeric(12,2);not null"`
	MaxDiscount      decimal.NullDecimal `gorm:"column:max_discount;type:numeric(12,2)"`
	MinOrderAmount   decimal.Decimal     `gorm:"column:min_order_amount;type:numeric(12,2);not null;default:0"`
	Active           bool                `gorm:"column:active;not null;default:true"`
	ExpiresAt        *time.Time          `gorm:"column:expires_at"`
	UsageLimit       *int                `gorm:"column:usage_limit"`
	UsedCount        int                 `gorm:"column:used_count;not null;default:0"`
	PerCustomerLimit *int                `gorm:"column:per_customer_limit"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CouponRedemption records one use of a coupon by an order.
type CouponRedemption struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CouponID   uuid.UUID `gorm:"column:coupon_id;type:uuid;not null;index"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	OrderID    string    `gorm:"column:order_id;not null;uniqueIndex:ux_coupon_redemptions_order"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (r *CouponRedemption) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
