package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// CouponRejection is a structured reason a coupon was not applied.
type CouponRejection string

const (
	CouponNotFound         CouponRejection = "not_found"
	CouponInactive         CouponRejection = "inactive"
	CouponExpired          CouponRejection = "expired"
	CouponBelowMinimum     CouponRejection = "below_minimum_order"
	CouponUsageExhausted   CouponRejection = "usage_limit_reached"
	CouponCustomerLimitHit CouponRejection = "customer_limit_reached"
	CouponInvalidRule      CouponRejection = "invalid_rule"
)

// CouponInput carries a coupon and the usage counters the rule needs. A nil
// Coupon with a non-empty Code means the code did not resolve.
type CouponInput struct {
	Code                string
	Coupon              *models.Coupon
	CustomerRedemptions int
}

type CouponResult struct {
	Code      string           `json:"code,omitempty"`
	Applied   bool             `json:"applied"`
	Discount  decimal.Decimal  `json:"discount"`
	Rejection *CouponRejection `json:"rejection,omitempty"`
}

func rejected(code string, reason CouponRejection) CouponResult {
	return CouponResult{Code: code, Discount: decimal.Zero, Rejection: &reason}
}

// EvaluateCoupon validates the coupon against subtotal at now and computes
// the discount. Failures never error; they come back as a rejection.
func EvaluateCoupon(in *CouponInput, subtotal decimal.Decimal, now time.Time) CouponResult {
	if in == nil || strings.TrimSpace(in.Code) == "" {
		return CouponResult{Discount: decimal.Zero}
	}
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	c := in.Coupon
	switch {
	case c == nil:
		return rejected(code, CouponNotFound)
	case !c.Active:
		return rejected(code, CouponInactive)
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return rejected(code, CouponExpired)
	case subtotal.LessThan(c.MinOrderAmount):
		return rejected(code, CouponBelowMinimum)
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return rejected(code, CouponUsageExhausted)
	case c.PerCustomerLimit != nil && in.CustomerRedemptions >= *c.PerCustomerLimit:
		return rejected(code, CouponCustomerLimitHit)
	}

	var discount decimal.Decimal
	switch c.Type {
	case enums.CouponTypePercentage:
		discount = subtotal.Mul(c.Value).Div(hundred)
		if c.MaxDiscount.Valid {
			discount = minDecimal(discount, c.MaxDiscount.Decimal)
		}
	case enums.CouponTypeFixed:
		discount = minDecimal(c.Value, subtotal)
	default:
		return rejected(code, CouponInvalidRule)
	}
	discount = Round2(floorZero(discount))
	return CouponResult{Code: code, Applied: true, Discount: discount}
}
