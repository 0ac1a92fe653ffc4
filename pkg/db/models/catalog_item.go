package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// CatalogItem is a sellable vegetable with its stock record. Weight-mode items
// hold stock in grams, piece-mode items in units; only one is meaningful.
type CatalogItem struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Name         string            `gorm:"column:name;not null"`
	PricingMode  enums.PricingMode `gorm:"column:pricing_mode;not null"`
	PriceOptions PriceOptions      `gorm:"column:price_options;type:jsonb;not null"`
	StockGrams   int64             `gorm:"column:stock_grams;not null;default:0"`
	StockUnits   int64             `gorm:"column:stock_units;not null;default:0"`
	OutOfStock   bool              `gorm:"column:out_of_stock;not null;default:false"`
	Active       bool              `gorm:"column:active;not null;default:true"`
	CreatedAt    time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CatalogItem) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// PriceOption is one purchasable selector, e.g. "500g" or "bundle of 3".
// Grams applies to weight mode, Units to piece mode.
type PriceOption struct {
	Selector string          `json:"selector"`
	Price    decimal.Decimal `json:"price"`
	Grams    int64           `json:"grams,omitempty"`
	Units    int64           `json:"units,omitempty"`
}

type PriceOptions []PriceOption

// Find returns the option for selector.
func (p PriceOptions) Find(selector string) (PriceOption, bool) {
	for _, opt := range p {
		if opt.Selector == selector {
			return opt, true
		}
	}
	return PriceOption{}, false
}

func (p PriceOptions) Value() (driver.Value, error) {
	if p == nil {
		p = PriceOptions{}
	}
	return jsonValue(p)
}

func (p *PriceOptions) Scan(src any) error {
	*p = PriceOptions{}
	return scanJSON(src, p)
}
