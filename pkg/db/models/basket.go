package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Basket is a fixed-price bundle of catalog items.
type Basket struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name       string           `gorm:"column:name;not null"`
	Price      decimal.Decimal  `gorm:"column:price;type:numeric(12,2);not null"`
	Active     bool             `gorm:"column:active;not null;default:true"`
	Components BasketComponents `gorm:"column:components;type:jsonb;not null"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Basket) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}

type BasketComponent struct {
	ItemID   uuid.UUID `json:"item_id"`
	Selector string    `json:"selector"`
	Quantity int       `json:"quantity"`
}

type BasketComponents []BasketComponent

func (c BasketComponents) Value() (driver.Value, error) {
	if c == nil {
		c = BasketComponents{}
	}
	return jsonValue(c)
}

func (c *BasketComponents) Scan(src any) error {
	*c = BasketComponents{}
	return scanJSON(src, c)
}
