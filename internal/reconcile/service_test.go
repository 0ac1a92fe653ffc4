package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

func newCases(t *testing.T) Service {
	t.Helper()
	svc, err := NewService(NewRepository(dbtest.New(t)), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return svc
}

func TestOpenIsIdempotentPerKey(t *testing.T) {
	svc := newCases(t)
	ctx := context.Background()
	in := CaseInput{
		Kind:        enums.ReconcileWalletDebitFailed,
		OrderID:     "ORD202610170001",
		AmountMinor: 50000,
		Details:     map[string]string{"error": "insufficient balance"},
	}

	first, created, err := svc.Open(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "wallet_debit_failed:ORD202610170001", first.DedupeKey)

	second, created, err := svc.Open(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other, created, err := svc.Open(ctx, CaseInput{Kind: enums.ReconcilePaymentUnknownOutcome, GatewayPaymentID: "pay_1"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "payment_unknown_outcome:pay_1", other.DedupeKey)
	assert.Nil(t, other.OrderID)
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	svc := newCases(t)
	_, _, err := svc.Open(context.Background(), CaseInput{Kind: "mystery", OrderID: "ORD1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestResolveLifecycle(t *testing.T) {
	svc := newCases(t)
	ctx := context.Background()
	c, _, err := svc.Open(ctx, CaseInput{Kind: enums.ReconcileStockAfterCapture, OrderID: "ORD7"})
	require.NoError(t, err)

	open, err := svc.List(ctx, enums.ReconciliationOpen, 10)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	require.NoError(t, svc.Resolve(ctx, c.ID, "refunded at gateway"))
	err = svc.Resolve(ctx, c.ID, "again")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	resolved, err := svc.List(ctx, enums.ReconciliationResolved, 10)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, "refunded at gateway", resolved[0].Details["resolution"])
	assert.NotNil(t, resolved[0].ResolvedAt)

	err = svc.Resolve(ctx, uuid.New(), "")
	assert.True(t, errors.Is(err, ErrCaseNotFound))

	_, err = svc.List(ctx, "closed", 10)
	assert.Error(t, err)
}
