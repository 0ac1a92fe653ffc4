package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

var (
	ErrInvalidSelector = errors.New("invalid price selector")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrItemUnavailable = errors.New("item is not available")
)

// Rules is the delivery rule and currency. Amounts are major units.
type Rules struct {
	Currency              string
	DeliveryFee           decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
}

// LineInput is one cart line resolved against the catalog.
type LineInput struct {
	Item     models.CatalogItem
	Selector string
	Quantity int
}

// BasketInput is a fixed-price basket order.
type BasketInput struct {
	Basket   models.Basket
	Quantity int
}

// QuoteInput is everything pricing needs; it performs no lookups of its own.
// WalletBalance is the available balance in minor units and is only applied
// when UseWallet is set or the method is WALLET.
type QuoteInput struct {
	Kind            enums.OrderKind
	Lines           []LineInput
	Basket          *BasketInput
	Coupon          *CouponInput
	CustomerID      uuid.UUID
	PaymentMethod   enums.PaymentMethod
	UseWallet       bool
	WalletBalance   int64
	CompletedOrders int
	Now             time.Time
}

// Quote is the full pricing breakdown.
type Quote struct {
	Kind               enums.OrderKind     `json:"kind"`
	Currency           string              `json:"currency"`
	Lines              models.OrderItems   `json:"lines"`
	Subtotal           decimal.Decimal     `json:"subtotal"`
	Coupon             CouponResult        `json:"coupon"`
	DiscountedSubtotal decimal.Decimal     `json:"discounted_subtotal"`
	DeliveryCharges    decimal.Decimal     `json:"delivery_charges"`
	TotalAmount        decimal.Decimal     `json:"total_amount"`
	WalletBalance      decimal.Decimal     `json:"wallet_balance"`
	WalletCreditUsed   decimal.Decimal     `json:"wallet_credit_used"`
	FinalPayableAmount decimal.Decimal     `json:"final_payable_amount"`
	Cashback           CashbackResult      `json:"cashback"`
	PaymentMethod      enums.PaymentMethod `json:"payment_method"`
}

// WalletCreditUsedMinor is the wallet debit this quote implies, in minor units.
func (q *Quote) WalletCreditUsedMinor() int64 {
	return ToMinor(q.WalletCreditUsed)
}

// FinalPayableMinor is what the customer pays outside the wallet.
func (q *Quote) FinalPayableMinor() int64 {
	return ToMinor(q.FinalPayableAmount)
}

// Calculator composes line pricing, coupon, delivery, wallet and cashback.
type Calculator struct {
	rules    Rules
	cashback CashbackPolicy
}

func NewCalculator(rules Rules, cashback CashbackPolicy) (*Calculator, error) {
	if rules.DeliveryFee.IsNegative() || rules.FreeDeliveryThreshold.IsNegative() {
		return nil, fmt.Errorf("delivery rule amounts must not be negative")
	}
	if err := cashback.Validate(); err != nil {
		return nil, err
	}
	if rules.Currency == "" {
		rules.Currency = string(enums.CurrencyINR)
	}
	return &Calculator{rules: rules, cashback: cashback}, nil
}

func (c *Calculator) Policy() CashbackPolicy {
	return c.cashback
}

// Quote prices the input. Identical inputs always produce identical quotes.
func (c *Calculator) Quote(in QuoteInput) (*Quote, error) {
	if !in.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment method %q", in.PaymentMethod))
	}

	q := &Quote{Kind: in.Kind, Currency: c.rules.Currency, PaymentMethod: in.PaymentMethod}
	var err error
	switch in.Kind {
	case enums.OrderKindCustom:
		q.Lines, q.Subtotal, err = PriceLines(in.Lines)
	case enums.OrderKindBasket:
		q.Lines, q.Subtotal, err = priceBasket(in.Basket)
	default:
		err = pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order kind %q", in.Kind))
	}
	if err != nil {
		return nil, err
	}

	q.Coupon = EvaluateCoupon(in.Coupon, q.Subtotal, in.Now)
	q.DiscountedSubtotal = floorZero(q.Subtotal.Sub(q.Coupon.Discount))
	q.DeliveryCharges = c.deliveryCharge(in.Kind, q.DiscountedSubtotal)
	q.TotalAmount = Round2(q.DiscountedSubtotal.Add(q.DeliveryCharges))

	q.WalletBalance = decimal.Zero
	q.WalletCreditUsed = decimal.Zero
	if in.UseWallet || in.PaymentMethod == enums.PaymentMethodWallet {
		available := FromMinor(max(in.WalletBalance, 0))
		q.WalletBalance = available
		q.WalletCreditUsed = minDecimal(available, q.TotalAmount)
	}
	q.FinalPayableAmount = floorZero(q.TotalAmount.Sub(q.WalletCreditUsed))

	q.Cashback = c.cashback.Evaluate(in.CustomerID, in.PaymentMethod, q.FinalPayableAmount, in.CompletedOrders)
	return q, nil
}

func (c *Calculator) deliveryCharge(kind enums.OrderKind, discounted decimal.Decimal) decimal.Decimal {
	if kind == enums.OrderKindCustom && discounted.GreaterThan(c.rules.FreeDeliveryThreshold) {
		return decimal.Zero
	}
	return c.rules.DeliveryFee
}

// PriceLines prices custom cart lines from the catalog price table.
func PriceLines(lines []LineInput) (models.OrderItems, decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrEmptyCart, "cart is empty")
	}
	items := make(models.OrderItems, 0, len(lines))
	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidQuantity, "quantity must be positive").
				WithDetails(map[string]any{"item_id": line.Item.ID.String()})
		}
		if !line.Item.Active {
			return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrItemUnavailable, "item is not available").
				WithDetails(map[string]any{"item_id": line.Item.ID.String(), "name": line.Item.Name})
		}
		opt, ok := line.Item.PriceOptions.Find(line.Selector)
		if !ok {
			return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidSelector, "unknown price selector").
				WithDetails(map[string]any{"item_id": line.Item.ID.String(), "selector": line.Selector})
		}
		lineTotal := Round2(opt.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		items = append(items, models.OrderLineItem{
			ItemID:    line.Item.ID,
			Name:      line.Item.Name,
			Selector:  opt.Selector,
			Quantity:  line.Quantity,
			UnitPrice: opt.Price,
			Subtotal:  lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	return items, Round2(subtotal), nil
}

func priceBasket(in *BasketInput) (models.OrderItems, decimal.Decimal, error) {
	if in == nil {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrEmptyCart, "basket is required")
	}
	if in.Quantity < 1 {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidQuantity, "quantity must be positive")
	}
	if !in.Basket.Active {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrItemUnavailable, "basket is not available").
			WithDetails(map[string]any{"basket_id": in.Basket.ID.String()})
	}
	total := Round2(in.Basket.Price.Mul(decimal.NewFromInt(int64(in.Quantity))))
	items := models.OrderItems{{
		ItemID:    in.Basket.ID,
		Name:      in.Basket.Name,
		Selector:  "basket",
		Quantity:  in.Quantity,
		UnitPrice: in.Basket.Price,
		Subtotal:  total,
	}}
	return items, total, nil
}

// RecomputeTotal rebuilds the order total from persisted line items.
func RecomputeTotal(items models.OrderItems, discount, delivery decimal.Decimal) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(Round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))))
	}
	return Round2(floorZero(subtotal.Sub(discount)).Add(delivery))
}
