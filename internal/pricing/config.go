package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// PolicyFromConfig builds and validates the cashback policy from env config.
func PolicyFromConfig(cfg config.CashbackConfig) (CashbackPolicy, error) {
	policy := CashbackPolicy{
		Enabled:      cfg.Enabled,
		MinThreshold: cfg.MinThreshold,
		MaxThreshold: cfg.MaxThreshold,
		FirstOrder:   FirstOrderPolicy(strings.ToLower(strings.TrimSpace(cfg.FirstOrderPolicy))),
	}
	if policy.FirstOrder != FirstOrderEligible && policy.FirstOrder != FirstOrderThreshold {
		return CashbackPolicy{}, fmt.Errorf("invalid first order policy %q", cfg.FirstOrderPolicy)
	}

	var err error
	if policy.MinPayable, err = parseMoney("cashback min payable", cfg.MinPayable); err != nil {
		return CashbackPolicy{}, err
	}
	if policy.MinAmount, err = parseMoney("cashback min amount", cfg.MinAmount); err != nil {
		return CashbackPolicy{}, err
	}
	if policy.MaxAmount, err = parseMoney("cashback max amount", cfg.MaxAmount); err != nil {
		return CashbackPolicy{}, err
	}
	for _, raw := range cfg.ExcludedMethods {
		method, perr := enums.ParsePaymentMethod(strings.ToUpper(strings.TrimSpace(raw)))
		if perr != nil {
			return CashbackPolicy{}, perr
		}
		policy.ExcludedMethods = append(policy.ExcludedMethods, method)
	}
	if policy.Tiers, err = ParseTiers(cfg.Tiers); err != nil {
		return CashbackPolicy{}, err
	}
	if err := policy.Validate(); err != nil {
		return CashbackPolicy{}, err
	}
	return policy, nil
}

// RulesFromConfig reads the delivery rule.
func RulesFromConfig(cfg config.PricingConfig) Rules {
	return Rules{
		Currency:              strings.ToUpper(cfg.Currency),
		DeliveryFee:           cfg.DeliveryFeeAmount(),
		FreeDeliveryThreshold: cfg.FreeDeliveryThresholdAmount(),
	}
}

func parseMoney(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return v, nil
}
