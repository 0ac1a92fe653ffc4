package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// WeightOutOfStockGrams is the kilogram-mode floor: below 0.25 kg an item is
// shown as out of stock.
const WeightOutOfStockGrams int64 = 250

// Repository reads the catalog and applies conditional stock mutations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindItems(ctx context.Context, ids []uuid.UUID) ([]models.CatalogItem, error)
	FindBasket(ctx context.Context, id uuid.UUID) (*models.Basket, error)
	Deduct(ctx context.Context, item models.CatalogItem, qty int64) (bool, error)
	Restore(ctx context.Context, item models.CatalogItem, qty int64) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindItems(ctx context.Context, ids []uuid.UUID) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	if len(ids) == 0 {
		return items, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindBasket(ctx context.Context, id uuid.UUID) (*models.Basket, error) {
	var basket models.Basket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&basket).Error; err != nil {
		return nil, err
	}
	return &basket, nil
}

// Deduct decrements stock only if enough remains, recomputing the flag in the
// same statement. It reports false when the floor check failed.
func (r *repository) Deduct(ctx context.Context, item models.CatalogItem, qty int64) (bool, error) {
	column, floor := stockColumn(item.PricingMode)
	res := r.db.WithContext(ctx).
		Model(&models.CatalogItem{}).
		Where("id = ? AND "+column+" >= ?", item.ID, qty).
		Updates(map[string]any{
			column:         gorm.Expr(column+" - ?", qty),
			"out_of_stock": gorm.Expr("("+column+" - ?) < ?", qty, floor),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Restore(ctx context.Context, item models.CatalogItem, qty int64) error {
	column, floor := stockColumn(item.PricingMode)
	return r.db.WithContext(ctx).
		Model(&models.CatalogItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			column:         gorm.Expr(column+" + ?", qty),
			"out_of_stock": gorm.Expr("("+column+" + ?) < ?", qty, floor),
			"updated_at":   time.Now().UTC(),
		}).Error
}

// stockColumn returns the stock column and the out-of-stock floor. Piece mode
// is out of stock at <= 0, i.e. < 1.
func stockColumn(mode enums.PricingMode) (string, int64) {
	if mode == enums.PricingModeWeight {
		return "stock_grams", WeightOutOfStockGrams
	}
	return "stock_units", 1
}

// OutOfStock mirrors the SQL flag computation.
func OutOfStock(mode enums.PricingMode, remaining int64) bool {
	_, floor := stockColumn(mode)
	return remaining < floor
}
