package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// ReconciliationCase flags a settlement whose outcome needs manual follow-up.
// DedupeKey keeps repeated detections of the same problem to one open case.
type ReconciliationCase struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	Kind             enums.ReconciliationKind   `gorm:"column:kind;not null"`
	DedupeKey        string                     `gorm:"column:dedupe_key;not null;uniqueIndex:ux_reconciliation_cases_dedupe"`
	OrderID          *string                    `gorm:"column:order_id;index"`
	CustomerID       *uuid.UUID                 `gorm:"column:customer_id;type:uuid"`
	GatewayOrderID   *string                    `gorm:"column:gateway_order_id"`
	GatewayPaymentID *string                    `gorm:"column:gateway_payment_id"`
	AmountMinor      int64                      `gorm:"column:amount_minor;not null;default:0"`
	Details          CaseDetails                `gorm:"column:details;type:jsonb"`
	Status           enums.ReconciliationStatus `gorm:"column:status;not null;default:'open'"`
	ResolvedAt       *time.Time                 `gorm:"column:resolved_at"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ReconciliationCase) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

type CaseDetails map[string]string

func (d CaseDetails) Value() (driver.Value, error) {
	if d == nil {
		d = CaseDetails{}
	}
	return jsonValue(d)
}

func (d *CaseDetails) Scan(src any) error {
	*d = CaseDetails{}
	return scanJSON(src, d)
}
