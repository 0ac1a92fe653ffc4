package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// Repository manages persistence for wallet ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	Latest(ctx context.Context, walletID uuid.UUID) (*models.WalletTransaction, error)
	Create(ctx context.Context, entry *models.WalletTransaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error)
	FindByReference(ctx context.Context, source enums.LedgerSource, referenceID string) (*models.WalletTransaction, error)
	MarkReversed(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error)
	Totals(ctx context.Context, walletID uuid.UUID) (*Totals, error)
}

// Totals aggregates effective postings for a wallet.
type Totals struct {
	Credits int64
	Debits  int64
	Entries int64
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockWallet loads the wallet row with FOR UPDATE so postings to one wallet
// serialize. SQLite ignores the locking clause.
func (r *repository) LockWallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) Latest(ctx context.Context, walletID uuid.UUID) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("seq DESC").
		Limit(1).
		Take(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) Create(ctx context.Context, entry *models.WalletTransaction) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByReference(ctx context.Context, source enums.LedgerSource, referenceID string) (*models.WalletTransaction, error) {
	var entry models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("reference_id = ? AND source = ?", referenceID, source).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkReversed flips a successful debit to reversed. It reports false when the
// entry was not in the success state.
func (r *repository) MarkReversed(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", id, enums.LedgerEntrySuccess).
		Updates(map[string]any{
			"status":     enums.LedgerEntryReversed,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	var entries []models.WalletTransaction
	q := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Totals sums every posted credit and debit. A reversed debit stays in the
// debit sum because its reversal credit is in the credit sum; the pair nets to
// zero.
func (r *repository) Totals(ctx context.Context, walletID uuid.UUID) (*Totals, error) {
	var row struct {
		Credits int64
		Debits  int64
		Entries int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select(
			"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS credits, "+
				"COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE 0 END), 0) AS debits, "+
				"COUNT(*) AS entries",
			enums.LedgerEntryCredit, enums.LedgerEntryDebit,
		).
		Where("wallet_id = ?", walletID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &Totals{Credits: row.Credits, Debits: row.Debits, Entries: row.Entries}, nil
}
