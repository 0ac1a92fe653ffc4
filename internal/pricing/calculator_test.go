package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPolicy() CashbackPolicy {
	return CashbackPolicy{
		Enabled:      true,
		MinPayable:   d("100"),
		MinAmount:    d("5"),
		MaxAmount:    d("10"),
		MinThreshold: 2,
		MaxThreshold: 5,
		FirstOrder:   FirstOrderEligible,
		Tiers: []CashbackTier{
			{Lower: d("0"), Upper: d("1000"), Percent: d("1")},
			{Lower: d("1000"), Percent: d("1.5")},
		},
	}
}

func testCalculator(t *testing.T) *Calculator {
	t.Helper()
	calc, err := NewCalculator(Rules{Currency: "INR", DeliveryFee: d("40"), FreeDeliveryThreshold: d("500")}, testPolicy())
	require.NoError(t, err)
	return calc
}

func tomato() models.CatalogItem {
	return models.CatalogItem{
		ID:          uuid.MustParse("5b7b7d4c-8a53-4a3b-9a70-1f0f2f3bd001"),
		Name:        "Tomato",
		PricingMode: enums.PricingModeWeight,
		Active:      true,
		PriceOptions: models.PriceOptions{
			{Selector: "250g", Price: d("15"), Grams: 250},
			{Selector: "1kg", Price: d("55.50"), Grams: 1000},
		},
	}
}

func TestQuoteCustomCart(t *testing.T) {
	calc := testCalculator(t)

	q, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindCustom,
		Lines:         []LineInput{{Item: tomato(), Selector: "1kg", Quantity: 2}, {Item: tomato(), Selector: "250g", Quantity: 1}},
		PaymentMethod: enums.PaymentMethodCOD,
		CustomerID:    uuid.New(),
	})
	require.NoError(t, err)
	require.Len(t, q.Lines, 2)
	assert.True(t, q.Subtotal.Equal(d("126")), q.Subtotal.String())
	assert.True(t, q.DeliveryCharges.Equal(d("40")))
	assert.True(t, q.TotalAmount.Equal(d("166")))
	assert.True(t, q.FinalPayableAmount.Equal(d("166")))
	assert.Equal(t, int64(16600), q.FinalPayableMinor())
}

func TestQuoteUnknownSelector(t *testing.T) {
	calc := testCalculator(t)

	_, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindCustom,
		Lines:         []LineInput{{Item: tomato(), Selector: "3kg", Quantity: 1}},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSelector))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestQuoteRejectsEmptyCartAndBadQuantity(t *testing.T) {
	calc := testCalculator(t)

	_, err := calc.Quote(QuoteInput{Kind: enums.OrderKindCustom, PaymentMethod: enums.PaymentMethodCOD})
	assert.True(t, errors.Is(err, ErrEmptyCart))

	_, err = calc.Quote(QuoteInput{
		Kind:          enums.OrderKindCustom,
		Lines:         []LineInput{{Item: tomato(), Selector: "1kg", Quantity: 0}},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	assert.True(t, errors.Is(err, ErrInvalidQuantity))
}

func TestDeliveryRule(t *testing.T) {
	calc := testCalculator(t)

	custom, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindCustom,
		Lines:         []LineInput{{Item: tomato(), Selector: "1kg", Quantity: 10}},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.True(t, custom.DeliveryCharges.IsZero(), "custom orders above the threshold ship free")

	basket, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindBasket,
		Basket:        &BasketInput{Basket: models.Basket{ID: uuid.New(), Name: "Family box", Price: d("899"), Active: true}, Quantity: 1},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.True(t, basket.DeliveryCharges.Equal(d("40")), "baskets always pay the flat fee")
	assert.True(t, basket.TotalAmount.Equal(d("939")))
}

func TestWalletCreditApplication(t *testing.T) {
	calc := testCalculator(t)
	basket := &BasketInput{Basket: models.Basket{ID: uuid.New(), Name: "Weekly", Price: d("660"), Active: true}, Quantity: 1}

	q, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindBasket,
		Basket:        basket,
		PaymentMethod: enums.PaymentMethodCOD,
		UseWallet:     true,
		WalletBalance: 50000,
	})
	require.NoError(t, err)
	assert.True(t, q.TotalAmount.Equal(d("700")))
	assert.True(t, q.WalletCreditUsed.Equal(d("500")))
	assert.True(t, q.FinalPayableAmount.Equal(d("200")))
	assert.Equal(t, int64(50000), q.WalletCreditUsedMinor())

	rich, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindBasket,
		Basket:        basket,
		PaymentMethod: enums.PaymentMethodWallet,
		WalletBalance: 100000,
	})
	require.NoError(t, err)
	assert.True(t, rich.WalletCreditUsed.Equal(d("700")))
	assert.True(t, rich.FinalPayableAmount.IsZero())
	assert.False(t, rich.Cashback.Eligible, "wallet-funded orders never earn cashback")

	ignored, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindBasket,
		Basket:        basket,
		PaymentMethod: enums.PaymentMethodCOD,
		WalletBalance: 100000,
	})
	require.NoError(t, err)
	assert.True(t, ignored.WalletCreditUsed.IsZero(), "balance is only applied on request")
}

func TestQuoteIsIdempotent(t *testing.T) {
	calc := testCalculator(t)
	limit := 3
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	in := QuoteInput{
		Kind:  enums.OrderKindCustom,
		Lines: []LineInput{{Item: tomato(), Selector: "1kg", Quantity: 3}},
		Coupon: &CouponInput{Code: "fresh10", Coupon: &models.Coupon{
			Code: "FRESH10", Type: enums.CouponTypePercentage, Value: d("10"), Active: true, PerCustomerLimit: &limit,
		}},
		CustomerID:      uuid.MustParse("0d6f8e71-1d1b-4f27-9a44-6b0f5ce2a111"),
		PaymentMethod:   enums.PaymentMethodOnline,
		UseWallet:       true,
		WalletBalance:   1234,
		CompletedOrders: 7,
		Now:             now,
	}

	first, err := calc.Quote(in)
	require.NoError(t, err)
	second, err := calc.Quote(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCODCashbackIsClampedToMaximum(t *testing.T) {
	calc := testCalculator(t)
	basket := &BasketInput{Basket: models.Basket{ID: uuid.New(), Name: "Party", Price: d("1160"), Active: true}, Quantity: 1}

	q, err := calc.Quote(QuoteInput{
		Kind:            enums.OrderKindBasket,
		Basket:          basket,
		PaymentMethod:   enums.PaymentMethodCOD,
		CustomerID:      uuid.New(),
		CompletedOrders: 10,
	})
	require.NoError(t, err)
	require.True(t, q.FinalPayableAmount.Equal(d("1200")))
	assert.True(t, q.Cashback.Eligible)
	assert.True(t, q.Cashback.Percent.Equal(d("1.5")))
	assert.True(t, q.Cashback.Amount.Equal(d("10")), q.Cashback.Amount.String())
}

func TestRecomputeTotalMatchesQuote(t *testing.T) {
	calc := testCalculator(t)
	q, err := calc.Quote(QuoteInput{
		Kind:          enums.OrderKindCustom,
		Lines:         []LineInput{{Item: tomato(), Selector: "1kg", Quantity: 3}, {Item: tomato(), Selector: "250g", Quantity: 2}},
		Coupon:        &CouponInput{Code: "FLAT20", Coupon: &models.Coupon{Code: "FLAT20", Type: enums.CouponTypeFixed, Value: d("20"), Active: true}},
		PaymentMethod: enums.PaymentMethodCOD,
	})
	require.NoError(t, err)
	assert.True(t, RecomputeTotal(q.Lines, q.Coupon.Discount, q.DeliveryCharges).Equal(q.TotalAmount))
}

func TestNewCalculatorRejectsNegativeRules(t *testing.T) {
	_, err := NewCalculator(Rules{DeliveryFee: d("-1")}, testPolicy())
	assert.Error(t, err)
}

func TestMoneyConversion(t *testing.T) {
	assert.Equal(t, int64(123457), ToMinor(d("1234.565")))
	assert.Equal(t, int64(-123457), ToMinor(d("-1234.565")))
	assert.True(t, FromMinor(70050).Equal(d("700.50")))
	assert.True(t, Round2(d("0.125")).Equal(d("0.13")))
}
