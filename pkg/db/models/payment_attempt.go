package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// PaymentAttempt is an online payment intent opened with the gateway and
// awaiting its signed callback. Request holds the original placement payload
// so the callback can be re-priced server-side. WalletCreditMinor pins the
// wallet credit applied at intent time; re-pricing uses it instead of the
// live balance.
type PaymentAttempt struct {
	ID                uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	GatewayOrderID    string                     `gorm:"column:gateway_order_id;not null;uniqueIndex:ux_payment_attempts_gateway_order"`
	CustomerID        uuid.UUID                  `gorm:"column:customer_id;type:uuid;not null;index"`
	AmountMinor       int64                      `gorm:"column:amount_minor;not null"`
	WalletCreditMinor int64                      `gorm:"column:wallet_credit_minor;not null;default:0"`
	Currency          string                     `gorm:"column:currency;not null"`
	Receipt           string                     `gorm:"column:receipt;not null"`
	Request           json.RawMessage            `gorm:"column:request;type:jsonb;not null"`
	Status            enums.PaymentAttemptStatus `gorm:"column:status;not null;default:'created'"`
	OrderID           *string                    `gorm:"column:order_id"`
	CreatedAt         time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentAttempt) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
