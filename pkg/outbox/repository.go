package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

const maxErrorLen = 1024

// ErrLeaseLost means another worker reclaimed the row after our lease expired.
var ErrLeaseLost = errors.New("outbox lease lost")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

func (r *Repository) ExistsTx(tx *gorm.DB, dedupeKey string) (bool, error) {
	var count int64
	err := tx.Model(&models.OutboxEvent{}).Where("dedupe_key = ?", dedupeKey).Count(&count).Error
	return count > 0, err
}

func (r *Repository) FindByDedupeKey(ctx context.Context, dedupeKey string) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", dedupeKey).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// claimable matches rows that are due, plus rows whose holder let the lease
// lapse.
const claimable = "((status = ? AND available_at <= ?) OR (status = ? AND locked_until < ?))"

// Claim leases up to limit due rows to workerID. Each row is taken with a
// conditional update so two workers never hold the same row.
func (r *Repository) Claim(ctx context.Context, workerID string, limit int, lease time.Duration, now time.Time) ([]models.OutboxEvent, error) {
	now = now.UTC()
	var candidates []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where(claimable, enums.OutboxStatusPending, now, enums.OutboxStatusProcessing, now).
		Order("available_at ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]models.OutboxEvent, 0, len(candidates))
	for _, row := range candidates {
		ok, err := r.claimRow(ctx, &row, workerID, lease, now)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, row)
		}
	}
	return claimed, nil
}

// ClaimByDedupeKey leases one specific row. It returns the current row and
// false when the row is done, failed or held by another worker.
func (r *Repository) ClaimByDedupeKey(ctx context.Context, workerID, dedupeKey string, lease time.Duration, now time.Time) (*models.OutboxEvent, bool, error) {
	row, err := r.FindByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return nil, false, err
	}
	ok, err := r.claimRow(ctx, row, workerID, lease, now.UTC())
	if err != nil {
		return nil, false, err
	}
	return row, ok, nil
}

func (r *Repository) claimRow(ctx context.Context, row *models.OutboxEvent, workerID string, lease time.Duration, now time.Time) (bool, error) {
	until := now.Add(lease)
	res := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND "+claimable, row.ID, enums.OutboxStatusPending, now, enums.OutboxStatusProcessing, now).
		Updates(map[string]any{
			"status":       enums.OutboxStatusProcessing,
			"locked_by":    workerID,
			"locked_until": until,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		return false, res.Error
	}
	row.Status = enums.OutboxStatusProcessing
	row.LockedBy = &workerID
	row.LockedUntil = &until
	return true, nil
}

func (r *Repository) MarkDone(ctx context.Context, id uuid.UUID, workerID string) error {
	return r.release(ctx, id, workerID, map[string]any{
		"status":       enums.OutboxStatusDone,
		"published_at": time.Now().UTC(),
		"last_error":   nil,
	})
}

// MarkRetry counts the failed attempt and schedules the row again.
func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, workerID string, cause error, availableAt time.Time) error {
	return r.release(ctx, id, workerID, map[string]any{
		"status":        enums.OutboxStatusPending,
		"available_at":  availableAt.UTC(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    truncateError(cause),
	})
}

// MarkTerminal stops retries for the row.
func (r *Repository) MarkTerminal(ctx context.Context, id uuid.UUID, workerID string, cause error) error {
	return r.release(ctx, id, workerID, map[string]any{
		"status":        enums.OutboxStatusFailed,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    truncateError(cause),
	})
}

func (r *Repository) release(ctx context.Context, id uuid.UUID, workerID string, updates map[string]any) error {
	updates["locked_by"] = nil
	updates["locked_until"] = nil
	res := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, enums.OutboxStatusProcessing, workerID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *Repository) ListFailed(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OutboxStatusFailed).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Requeue returns a terminal row to the queue with its attempt count reset.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusFailed).
		Updates(map[string]any{
			"status":        enums.OutboxStatusPending,
			"available_at":  time.Now().UTC(),
			"attempt_count": 0,
		})
	return res.RowsAffected == 1, res.Error
}

// DeleteDoneBefore prunes up to limit completed rows published before cutoff.
func (r *Repository) DeleteDoneBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	ids := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Select("id").
		Where("status = ? AND published_at < ?", enums.OutboxStatusDone, cutoff.UTC()).
		Order("published_at ASC").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", ids).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return &msg
}
