package enums

import "fmt"

// ReconciliationKind classifies a case needing operator follow-up.
type ReconciliationKind string

const (
	ReconcileWalletDebitFailed     ReconciliationKind = "wallet_debit_failed"
	ReconcilePaymentUnknownOutcome ReconciliationKind = "payment_unknown_outcome"
	ReconcileStockAfterCapture     ReconciliationKind = "stock_unavailable_after_capture"
	ReconcileAmountMismatch        ReconciliationKind = "amount_mismatch"
	ReconcileEffectExhausted       ReconciliationKind = "effect_exhausted"
)

var validReconciliationKinds = []ReconciliationKind{
	ReconcileWalletDebitFailed,
	ReconcilePaymentUnknownOutcome,
	ReconcileStockAfterCapture,
	ReconcileAmountMismatch,
	ReconcileEffectExhausted,
}

// String implements fmt.Stringer.
func (r ReconciliationKind) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReconciliationKind.
func (r ReconciliationKind) IsValid() bool {
	for _, candidate := range validReconciliationKinds {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReconciliationKind converts raw input into a ReconciliationKind.
func ParseReconciliationKind(value string) (ReconciliationKind, error) {
	for _, candidate := range validReconciliationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation kind %q", value)
}

// ReconciliationStatus is open until an operator resolves the case.
type ReconciliationStatus string

const (
	ReconciliationOpen     ReconciliationStatus = "open"
	ReconciliationResolved ReconciliationStatus = "resolved"
)
