package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, c *models.ReconciliationCase) error
	FindByDedupeKey(ctx context.Context, key string) (*models.ReconciliationCase, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationCase, error)
	List(ctx context.Context, status enums.ReconciliationStatus, limit int) ([]models.ReconciliationCase, error)
	Resolve(ctx context.Context, id uuid.UUID, note string, at time.Time) (bool, error)
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

func (r *repository) Create(ctx context.Context, c *models.ReconciliationCase) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) FindByDedupeKey(ctx context.Context, key string) (*models.ReconciliationCase, error) {
	var c models.ReconciliationCase
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationCase, error) {
	var c models.ReconciliationCase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) List(ctx context.Context, status enums.ReconciliationStatus, limit int) ([]models.ReconciliationCase, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []models.ReconciliationCase
	err := q.Find(&rows).Error
	return rows, err
}

func (r *repository) Resolve(ctx context.Context, id uuid.UUID, note string, at time.Time) (bool, error) {
	var c models.ReconciliationCase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return false, err
	}
	details := c.Details
	if details == nil {
		details = models.CaseDetails{}
	}
	if note != "" {
		details["resolution"] = note
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReconciliationCase{}).
		Where("id = ? AND status = ?", id, enums.ReconciliationOpen).
		Updates(map[string]any{
			"status":      enums.ReconciliationResolved,
			"resolved_at": at.UTC(),
			"details":     details,
		})
	return res.RowsAffected == 1, res.Error
}
