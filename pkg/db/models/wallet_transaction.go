package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// WalletTransaction is one append-only ledger entry. Amounts and balances are
// integer minor currency units.
type WalletTransaction struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	WalletID       uuid.UUID               `gorm:"column:wallet_id;type:uuid;not null;uniqueIndex:ux_wallet_transactions_seq,priority:1"`
	Seq            int64                   `gorm:"column:seq;not null;uniqueIndex:ux_wallet_transactions_seq,priority:2"`
	Type           enums.LedgerEntryType   `gorm:"column:type;not null"`
	Source         enums.LedgerSource      `gorm:"column:source;not null;uniqueIndex:ux_wallet_transactions_reference,priority:2"`
	ReferenceID    string                  `gorm:"column:reference_id;not null;uniqueIndex:ux_wallet_transactions_reference,priority:1"`
	Amount         int64                   `gorm:"column:amount;not null"`
	OpeningBalance int64                   `gorm:"column:opening_balance;not null"`
	ClosingBalance int64                   `gorm:"column:closing_balance;not null"`
	Status         enums.LedgerEntryStatus `gorm:"column:status;not null;default:'success'"`
	Description    string                  `gorm:"column:description"`
	Metadata       LedgerMetadata          `gorm:"column:metadata;type:jsonb"`
	ReversalOf     *uuid.UUID              `gorm:"column:reversal_of;type:uuid;uniqueIndex:ux_wallet_transactions_reversal"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *WalletTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// LedgerMetadata is the fixed schema carried by every ledger entry.
type LedgerMetadata struct {
	OrderID         string `json:"order_id,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	OrderTotal      string `json:"order_total,omitempty"`
	CashbackPercent string `json:"cashback_percent,omitempty"`
	OriginalEntryID string `json:"original_entry_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Actor           string `json:"actor,omitempty"`
}

func (m LedgerMetadata) Value() (driver.Value, error) {
	return jsonValue(m)
}

func (m *LedgerMetadata) Scan(src any) error {
	*m = LedgerMetadata{}
	return scanJSON(src, m)
}
