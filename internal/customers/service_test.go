package customers

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

func TestResolveCreatesThenReuses(t *testing.T) {
	conn := dbtest.New(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, ResolveInput{Name: "Asha", Phone: "+91 98765-43210"})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", first.Phone)

	email := "asha@example.com"
	second, err := svc.Resolve(ctx, ResolveInput{Name: "Asha K", Phone: "+919876543210", Email: &email})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha K", got.Name)
	require.NotNil(t, got.Email)
	assert.Equal(t, email, *got.Email)
}

func TestResolveRequiresNameAndPhone(t *testing.T) {
	svc, err := NewService(NewRepository(dbtest.New(t)))
	require.NoError(t, err)
	_, err = svc.Resolve(context.Background(), ResolveInput{Name: "", Phone: "98765"})
	assert.Error(t, err)
	_, err = svc.Resolve(context.Background(), ResolveInput{Name: "Ravi", Phone: "--"})
	assert.Error(t, err)
}

func TestGetUnknownCustomer(t *testing.T) {
	svc, err := NewService(NewRepository(dbtest.New(t)))
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrCustomerNotFound))
}

func TestCompletedOrdersIgnoresPendingAndCancelled(t *testing.T) {
	conn := dbtest.New(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	customerID := uuid.New()

	seed := func(orderID string, payment enums.PaymentStatus, status enums.OrderStatus) {
		require.NoError(t, conn.Create(&models.Order{
			OrderID:            orderID,
			CustomerID:         customerID,
			Kind:               enums.OrderKindCustom,
			PaymentMethod:      enums.PaymentMethodCOD,
			PaymentStatus:      payment,
			OrderStatus:        status,
			TotalAmount:        decimal.RequireFromString("100"),
			FinalPayableAmount: decimal.RequireFromString("100"),
		}).Error)
	}
	seed("ORD1", enums.PaymentStatusCompleted, enums.OrderStatusDelivered)
	seed("ORD2", enums.PaymentStatusCompleted, enums.OrderStatusCancelled)
	seed("ORD3", enums.PaymentStatusPending, enums.OrderStatusPlaced)

	count, err := svc.CompletedOrders(context.Background(), customerID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
