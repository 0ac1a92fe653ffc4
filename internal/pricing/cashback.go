package pricing

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
)

// FirstOrderPolicy decides how customers with no completed orders are treated.
type FirstOrderPolicy string

const (
	// FirstOrderEligible applies the loosest rule: no completed-order gate.
	FirstOrderEligible FirstOrderPolicy = "eligible"
	// FirstOrderThreshold applies the hashed threshold like everyone else.
	FirstOrderThreshold FirstOrderPolicy = "threshold"
)

// CashbackTier applies Percent to amounts in [Lower, Upper). A zero Upper is
// open-ended.
type CashbackTier struct {
	Lower   decimal.Decimal
	Upper   decimal.Decimal
	Percent decimal.Decimal
}

func (t CashbackTier) contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.Lower) {
		return false
	}
	return t.Upper.IsZero() || amount.LessThan(t.Upper)
}

// CashbackPolicy is pure configuration; it performs no I/O.
type CashbackPolicy struct {
	Enabled         bool
	ExcludedMethods []enums.PaymentMethod
	MinPayable      decimal.Decimal
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	MinThreshold    int
	MaxThreshold    int
	Tiers           []CashbackTier
	FirstOrder      FirstOrderPolicy
}

type CashbackResult struct {
	Eligible bool            `json:"eligible"`
	Amount   decimal.Decimal `json:"amount"`
	Percent  decimal.Decimal `json:"percent"`
	Reason   string          `json:"reason,omitempty"`
}

// Validate rejects tier tables that are unordered, overlapping or whose
// percentages fall as order amounts rise.
func (p CashbackPolicy) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.MinThreshold < 0 || p.MaxThreshold < p.MinThreshold {
		return fmt.Errorf("invalid cashback threshold range [%d, %d]", p.MinThreshold, p.MaxThreshold)
	}
	if p.MinAmount.IsNegative() || (!p.MaxAmount.IsZero() && p.MaxAmount.LessThan(p.MinAmount)) {
		return fmt.Errorf("invalid cashback bounds [%s, %s]", p.MinAmount, p.MaxAmount)
	}
	if len(p.Tiers) == 0 {
		return fmt.Errorf("cashback tiers required")
	}
	for i, tier := range p.Tiers {
		if tier.Percent.IsNegative() {
			return fmt.Errorf("tier %d has a negative percent", i)
		}
		if !tier.Upper.IsZero() && !tier.Upper.GreaterThan(tier.Lower) {
			return fmt.Errorf("tier %d upper bound must exceed lower bound", i)
		}
		if i == 0 {
			continue
		}
		prev := p.Tiers[i-1]
		if prev.Upper.IsZero() || !prev.Upper.Equal(tier.Lower) {
			return fmt.Errorf("tier %d must start where tier %d ends", i, i-1)
		}
		if tier.Percent.LessThan(prev.Percent) {
			return fmt.Errorf("tier %d percent %s is lower than tier %d percent %s", i, tier.Percent, i-1, prev.Percent)
		}
	}
	return nil
}

// ThresholdFor maps a customer to a stable completed-order threshold in
// [MinThreshold, MaxThreshold] using FNV-1a over the customer id.
func (p CashbackPolicy) ThresholdFor(customerID uuid.UUID) int {
	span := p.MaxThreshold - p.MinThreshold + 1
	if span <= 1 {
		return p.MinThreshold
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(customerID.String()))
	return p.MinThreshold + int(h.Sum32()%uint32(span))
}

func (p CashbackPolicy) excludes(method enums.PaymentMethod) bool {
	if method == enums.PaymentMethodWallet {
		return true
	}
	for _, m := range p.ExcludedMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (p CashbackPolicy) tierFor(amount decimal.Decimal) (CashbackTier, bool) {
	for _, tier := range p.Tiers {
		if tier.contains(amount) {
			return tier, true
		}
	}
	return CashbackTier{}, false
}

// Evaluate decides eligibility and the cashback amount for a paid amount.
func (p CashbackPolicy) Evaluate(customerID uuid.UUID, method enums.PaymentMethod, payable decimal.Decimal, completedOrders int) CashbackResult {
	none := func(reason string) CashbackResult {
		return CashbackResult{Amount: decimal.Zero, Percent: decimal.Zero, Reason: reason}
	}
	switch {
	case !p.Enabled:
		return none("disabled")
	case p.excludes(method):
		return none("payment_method_excluded")
	case payable.LessThan(p.MinPayable) || !payable.IsPositive():
		return none("below_minimum_payable")
	}

	firstOrder := completedOrders == 0 && p.FirstOrder != FirstOrderThreshold
	if !firstOrder && completedOrders < p.ThresholdFor(customerID) {
		return none("order_threshold_not_met")
	}

	tier, ok := p.tierFor(payable)
	if !ok {
		return none("no_matching_tier")
	}
	amount := payable.Mul(tier.Percent).Div(hundred)
	if amount.LessThan(p.MinAmount) {
		amount = p.MinAmount
	}
	if !p.MaxAmount.IsZero() && amount.GreaterThan(p.MaxAmount) {
		amount = p.MaxAmount
	}
	amount = Round2(amount)
	if !amount.IsPositive() {
		return none("zero_amount")
	}
	return CashbackResult{Eligible: true, Amount: amount, Percent: tier.Percent}
}

// ParseTiers reads "lower:upper:percent" triples separated by commas. An
// empty upper bound is open-ended.
func ParseTiers(raw string) ([]CashbackTier, error) {
	var tiers []CashbackTier
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid cashback tier %q", part)
		}
		lower, err := decimal.NewFromString(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier lower bound %q: %w", fields[0], err)
		}
		upper := decimal.Zero
		if s := strings.TrimSpace(fields[1]); s != "" {
			if upper, err = decimal.NewFromString(s); err != nil {
				return nil, fmt.Errorf("invalid tier upper bound %q: %w", fields[1], err)
			}
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid tier percent %q: %w", fields[2], err)
		}
		tiers = append(tiers, CashbackTier{Lower: lower, Upper: upper, Percent: percent})
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Lower.LessThan(tiers[j].Lower) })
	return tiers, nil
}
