package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

const paymentAttemptTTL = 24 * time.Hour

type attemptExpirer interface {
	ExpireAttempts(ctx context.Context, before time.Time) (int64, error)
}

type PaymentAttemptExpiryJobParams struct {
	Logger *logger.Logger
	Orders attemptExpirer
	TTL    time.Duration
}

// NewPaymentAttemptExpiryJob closes gateway intents the customer never paid.
// A verify call for an expired attempt is rejected.
func NewPaymentAttemptExpiryJob(params PaymentAttemptExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = paymentAttemptTTL
	}
	return &paymentAttemptExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

type paymentAttemptExpiryJob struct {
	logg   *logger.Logger
	orders attemptExpirer
	ttl    time.Duration
	now    func() time.Time
}

func (j *paymentAttemptExpiryJob) Name() string { return "payment-attempt-expiry" }

func (j *paymentAttemptExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	expired, err := j.orders.ExpireAttempts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire payment attempts: %w", err)
	}
	if expired > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":  cutoff,
			"expired": expired,
		}), "payment attempts expired")
	}
	return nil
}
