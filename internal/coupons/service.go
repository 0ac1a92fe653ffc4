package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

var ErrCouponExhausted = errors.New("coupon usage limit reached")

type Service interface {
	// Lookup resolves code into the pricing input. An unknown code is not an
	// error; it prices as a rejected coupon.
	Lookup(ctx context.Context, code string, customerID *uuid.UUID) (*pricing.CouponInput, error)
	RedeemTx(ctx context.Context, tx *gorm.DB, couponID, customerID uuid.UUID, orderID string) error
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	return &service{repo: repo}, nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *service) Lookup(ctx context.Context, code string, customerID *uuid.UUID) (*pricing.CouponInput, error) {
	code = Normalize(code)
	if code == "" {
		return nil, nil
	}
	in := &pricing.CouponInput{Code: code}
	coupon, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return in, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup coupon")
	}
	in.Coupon = coupon
	if customerID != nil && coupon.PerCustomerLimit != nil {
		count, err := s.repo.CountRedemptions(ctx, coupon.ID, *customerID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count coupon redemptions")
		}
		in.CustomerRedemptions = count
	}
	return in, nil
}

// RedeemTx records the redemption in the order transaction. Losing the last
// global slot to a concurrent order aborts the order.
func (s *service) RedeemTx(ctx context.Context, tx *gorm.DB, couponID, customerID uuid.UUID, orderID string) error {
	repo := s.repo.WithTx(tx)
	ok, err := repo.IncrementUsage(ctx, couponID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment coupon usage")
	}
	if !ok {
		return pkgerrors.Wrap(pkgerrors.CodeBusinessRule, ErrCouponExhausted, "coupon usage limit reached").
			WithDetails(map[string]any{"reason": string(pricing.CouponUsageExhausted)})
	}
	err = repo.CreateRedemption(ctx, &models.CouponRedemption{CouponID: couponID, CustomerID: customerID, OrderID: orderID})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_coupon_redemptions_order") {
			return pkgerrors.New(pkgerrors.CodeConflict, "coupon already redeemed for order")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record coupon redemption")
	}
	return nil
}
