package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// Wallet is a customer's stored-value account. Its balance is derived from
// the ledger and never stored here.
type Wallet struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID          `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:ux_wallets_customer"`
	Status     enums.WalletStatus `gorm:"column:status;not null;default:'active'"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (w *Wallet) BeforeCreate(*gorm.DB) error {
	ensureID(&w.ID)
	return nil
}
