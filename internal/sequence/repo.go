package sequence

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
)

type Repository interface {
	MaxSequence(ctx context.Context, scope, datePart string) (int, error)
	Insert(ctx context.Context, alloc *models.SequenceAllocation) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) MaxSequence(ctx context.Context, scope, datePart string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&models.SequenceAllocation{}).
		Where("scope = ? AND date_part = ?", scope, datePart).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	return max, err
}

func (r *repository) Insert(ctx context.Context, alloc *models.SequenceAllocation) error {
	return r.db.WithContext(ctx).Create(alloc).Error
}
