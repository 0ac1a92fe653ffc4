package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

func newInventory(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.New(t)
	svc, err := NewService(db.Wrap(conn), NewRepository(conn))
	require.NoError(t, err)
	return svc, conn
}

func seedTomato(t *testing.T, conn *gorm.DB, grams int64) models.CatalogItem {
	t.Helper()
	item := models.CatalogItem{
		Name:        "Tomato",
		PricingMode: enums.PricingModeWeight,
		PriceOptions: models.PriceOptions{
			{Selector: "500g", Price: decimal.RequireFromString("30"), Grams: 500},
			{Selector: "1kg", Price: decimal.RequireFromString("55"), Grams: 1000},
		},
		StockGrams: grams,
		Active:     true,
	}
	require.NoError(t, conn.Create(&item).Error)
	return item
}

func seedCabbage(t *testing.T, conn *gorm.DB, units int64) models.CatalogItem {
	t.Helper()
	item := models.CatalogItem{
		Name:        "Cabbage",
		PricingMode: enums.PricingModePiece,
		PriceOptions: models.PriceOptions{
			{Selector: "1pc", Price: decimal.RequireFromString("25"), Units: 1},
			{Selector: "3pc", Price: decimal.RequireFromString("70"), Units: 3},
		},
		StockUnits: units,
		Active:     true,
	}
	require.NoError(t, conn.Create(&item).Error)
	return item
}

func reload(t *testing.T, conn *gorm.DB, id uuid.UUID) models.CatalogItem {
	t.Helper()
	var item models.CatalogItem
	require.NoError(t, conn.First(&item, "id = ?", id).Error)
	return item
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, NewRepository(nil))
	assert.Error(t, err)
	_, err = NewService(db.Wrap(nil), nil)
	assert.Error(t, err)
}

func TestStockChangesMergesAndConverts(t *testing.T) {
	svc, conn := newInventory(t)
	tomato := seedTomato(t, conn, 5000)
	cabbage := seedCabbage(t, conn, 10)

	changes, err := svc.StockChanges([]pricing.LineInput{
		{Item: tomato, Selector: "500g", Quantity: 2},
		{Item: tomato, Selector: "1kg", Quantity: 1},
		{Item: cabbage, Selector: "3pc", Quantity: 2},
	})
	require.NoError(t, err)

	got := map[uuid.UUID]int64{}
	for _, c := range changes {
		got[c.ItemID] = c.Quantity
	}
	assert.Equal(t, int64(2000), got[tomato.ID])
	assert.Equal(t, int64(6), got[cabbage.ID])
}

func TestStockChangesRejectsUnknownSelector(t *testing.T) {
	svc, conn := newInventory(t)
	tomato := seedTomato(t, conn, 5000)

	_, err := svc.StockChanges([]pricing.LineInput{{Item: tomato, Selector: "2kg", Quantity: 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrInvalidSelector))
}

func TestReserveDeductsAndFlagsOutOfStock(t *testing.T) {
	svc, conn := newInventory(t)
	ctx := context.Background()
	tomato := seedTomato(t, conn, 1200)
	cabbage := seedCabbage(t, conn, 3)

	err := svc.Reserve(ctx, []StockChange{
		{ItemID: tomato.ID, Quantity: 1000},
		{ItemID: cabbage.ID, Quantity: 3},
	}, Deduct)
	require.NoError(t, err)

	gotTomato := reload(t, conn, tomato.ID)
	assert.Equal(t, int64(200), gotTomato.StockGrams)
	assert.True(t, gotTomato.OutOfStock, "200g is below the 250g floor")

	gotCabbage := reload(t, conn, cabbage.ID)
	assert.Equal(t, int64(0), gotCabbage.StockUnits)
	assert.True(t, gotCabbage.OutOfStock)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	svc, conn := newInventory(t)
	ctx := context.Background()
	tomato := seedTomato(t, conn, 5000)
	cabbage := seedCabbage(t, conn, 1)

	err := svc.Reserve(ctx, []StockChange{
		{ItemID: tomato.ID, Quantity: 1000},
		{ItemID: cabbage.ID, Quantity: 2},
	}, Deduct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeBusinessRule))

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Cabbage", details["name"])

	assert.Equal(t, int64(5000), reload(t, conn, tomato.ID).StockGrams)
	assert.Equal(t, int64(1), reload(t, conn, cabbage.ID).StockUnits)
}

func TestReserveRestoreClearsFlag(t *testing.T) {
	svc, conn := newInventory(t)
	ctx := context.Background()
	tomato := seedTomato(t, conn, 300)

	require.NoError(t, svc.Reserve(ctx, []StockChange{{ItemID: tomato.ID, Quantity: 300}}, Deduct))
	assert.True(t, reload(t, conn, tomato.ID).OutOfStock)

	require.NoError(t, svc.Reserve(ctx, []StockChange{{ItemID: tomato.ID, Quantity: 300}}, Restore))
	got := reload(t, conn, tomato.ID)
	assert.Equal(t, int64(300), got.StockGrams)
	assert.False(t, got.OutOfStock)
}

func TestRestoreUsesRecordedUnit(t *testing.T) {
	svc, conn := newInventory(t)
	ctx := context.Background()
	tomato := seedTomato(t, conn, 1000)

	changes, err := svc.StockChanges([]pricing.LineInput{{Item: tomato, Selector: "500g", Quantity: 1}})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, enums.PricingModeWeight, changes[0].Mode)
	require.NoError(t, svc.Reserve(ctx, changes, Deduct))

	// sold by the piece from now on; the earlier deduction was in grams
	require.NoError(t, conn.Model(&models.CatalogItem{}).Where("id = ?", tomato.ID).
		Updates(map[string]any{"pricing_mode": enums.PricingModePiece, "stock_units": 4}).Error)

	require.NoError(t, svc.Reserve(ctx, changes, Restore))
	got := reload(t, conn, tomato.ID)
	assert.Equal(t, int64(1000), got.StockGrams)
	assert.Equal(t, int64(4), got.StockUnits)
}

func TestReserveRejectsBadInput(t *testing.T) {
	svc, conn := newInventory(t)
	ctx := context.Background()
	tomato := seedTomato(t, conn, 300)

	err := svc.Reserve(ctx, []StockChange{{ItemID: tomato.ID, Quantity: 0}}, Deduct)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Reserve(ctx, []StockChange{{ItemID: tomato.ID, Quantity: 10}}, Direction("sideways"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.Reserve(ctx, []StockChange{{ItemID: uuid.New(), Quantity: 10}}, Deduct)
	assert.True(t, errors.Is(err, ErrItemNotFound))

	assert.NoError(t, svc.Reserve(ctx, nil, Deduct))
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	svc, conn := newInventory(t)
	ctx := context.Background()
	cabbage := seedCabbage(t, conn, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Reserve(ctx, []StockChange{{ItemID: cabbage.ID, Quantity: 1}}, Deduct); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	got := reload(t, conn, cabbage.ID)
	assert.Equal(t, int64(0), got.StockUnits)
	assert.True(t, got.OutOfStock)
}

func TestResolveBasketScalesComponents(t *testing.T) {
	svc, conn := newInventory(t)
	tomato := seedTomato(t, conn, 5000)
	cabbage := seedCabbage(t, conn, 10)
	basket := models.Basket{
		Name:   "Weekly",
		Price:  decimal.RequireFromString("199"),
		Active: true,
		Components: models.BasketComponents{
			{ItemID: tomato.ID, Selector: "1kg", Quantity: 1},
			{ItemID: cabbage.ID, Selector: "1pc", Quantity: 2},
		},
	}
	require.NoError(t, conn.Create(&basket).Error)

	in, lines, err := svc.ResolveBasket(context.Background(), basket.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, in.Quantity)
	require.Len(t, lines, 2)

	changes, err := svc.StockChanges(lines)
	require.NoError(t, err)
	got := map[uuid.UUID]int64{}
	for _, c := range changes {
		got[c.ItemID] = c.Quantity
	}
	assert.Equal(t, int64(2000), got[tomato.ID])
	assert.Equal(t, int64(4), got[cabbage.ID])

	_, _, err = svc.ResolveBasket(context.Background(), uuid.New(), 1)
	assert.True(t, errors.Is(err, ErrBasketNotFound))
}
