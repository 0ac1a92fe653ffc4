package outbox

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

func newOutbox(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.New(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewService(NewRepository(conn), logg), conn
}

func debitEvent(orderID string) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventWalletDebit,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          map[string]any{"order_id": orderID, "amount_minor": 50000},
	}
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc, _ := newOutbox(t)
	_, err := svc.Emit(context.Background(), nil, debitEvent("ORD1"))
	assert.Error(t, err)
}

func TestEmitIfNotExistsDedupes(t *testing.T) {
	svc, conn := newOutbox(t)
	ctx := context.Background()

	var first, second bool
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.EmitIfNotExists(ctx, tx, debitEvent("ORD1"))
		return err
	}))
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = svc.EmitIfNotExists(ctx, tx, debitEvent("ORD1"))
		return err
	}))
	assert.True(t, first)
	assert.False(t, second)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	row, err := svc.Repository().FindByDedupeKey(ctx, "wallet_debit:ORD1")
	require.NoError(t, err)
	assert.Equal(t, enums.OutboxStatusPending, row.Status)
}

func TestClaimLeasesOnce(t *testing.T) {
	svc, conn := newOutbox(t)
	ctx := context.Background()
	repo := svc.Repository()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for _, id := range []string{"ORD1", "ORD2"} {
			if _, err := svc.Emit(ctx, tx, debitEvent(id)); err != nil {
				return err
			}
		}
		return nil
	}))

	now := time.Now().UTC().Add(time.Second)
	a, err := repo.Claim(ctx, "worker-a", 10, time.Minute, now)
	require.NoError(t, err)
	assert.Len(t, a, 2)

	b, err := repo.Claim(ctx, "worker-b", 10, time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, b, "rows are leased to worker-a")

	// An expired lease is reclaimable.
	c, err := repo.Claim(ctx, "worker-b", 10, time.Minute, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, c, 2)

	err = repo.MarkDone(ctx, a[0].ID, "worker-a")
	assert.True(t, errors.Is(err, ErrLeaseLost))
	require.NoError(t, repo.MarkDone(ctx, c[0].ID, "worker-b"))
}

func TestRetryAndTerminalTransitions(t *testing.T) {
	svc, conn := newOutbox(t)
	ctx := context.Background()
	repo := svc.Repository()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Emit(ctx, tx, debitEvent("ORD9"))
		return err
	}))

	now := time.Now().UTC().Add(time.Second)
	rows, err := repo.Claim(ctx, "w", 1, time.Minute, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, repo.MarkRetry(ctx, rows[0].ID, "w", errors.New("ledger unavailable"), now.Add(time.Hour)))
	none, err := repo.Claim(ctx, "w", 1, time.Minute, now)
	require.NoError(t, err)
	assert.Empty(t, none, "retry is scheduled in the future")

	rows, err = repo.Claim(ctx, "w", 1, time.Minute, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "ledger unavailable", *rows[0].LastError)

	require.NoError(t, repo.MarkTerminal(ctx, rows[0].ID, "w", errors.New("gave up")))
	failed, err := repo.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].AttemptCount)

	ok, err := repo.Requeue(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
	again, err := repo.Claim(ctx, "w", 1, time.Minute, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestClaimByDedupeKey(t *testing.T) {
	svc, conn := newOutbox(t)
	ctx := context.Background()
	repo := svc.Repository()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Emit(ctx, tx, debitEvent("ORD3"))
		return err
	}))

	now := time.Now().UTC().Add(time.Second)
	row, ok, err := repo.ClaimByDedupeKey(ctx, "inline", "wallet_debit:ORD3", time.Minute, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, enums.OutboxStatusProcessing, row.Status)

	_, ok, err = repo.ClaimByDedupeKey(ctx, "worker", "wallet_debit:ORD3", time.Minute, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = repo.ClaimByDedupeKey(ctx, "worker", "wallet_debit:missing", time.Minute, now)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestDeleteDoneBefore(t *testing.T) {
	svc, conn := newOutbox(t)
	ctx := context.Background()
	repo := svc.Repository()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for _, id := range []string{"ORD1", "ORD2", "ORD3"} {
			if _, err := svc.Emit(ctx, tx, debitEvent(id)); err != nil {
				return err
			}
		}
		return nil
	}))

	rows, err := repo.Claim(ctx, "w", 2, time.Minute, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.NoError(t, repo.MarkDone(ctx, row.ID, "w"))
	}

	deleted, err := repo.DeleteDoneBefore(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, maxErrorLen+10)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateError(errors.New(string(long)))
	require.NotNil(t, got)
	assert.Len(t, *got, maxErrorLen)
	assert.Nil(t, truncateError(nil))
}
