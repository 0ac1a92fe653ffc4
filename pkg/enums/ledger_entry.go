package enums

import "fmt"

// LedgerEntryType is the direction of a wallet ledger entry.
type LedgerEntryType string

const (
	LedgerEntryCredit LedgerEntryType = "credit"
	LedgerEntryDebit  LedgerEntryType = "debit"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryCredit,
	LedgerEntryDebit,
}

// String implements fmt.Stringer.
func (l LedgerEntryType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (l LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}

// LedgerSource names why money moved.
type LedgerSource string

const (
	LedgerSourceRefund       LedgerSource = "refund"
	LedgerSourcePromo        LedgerSource = "promo"
	LedgerSourceOrderPayment LedgerSource = "order_payment"
	LedgerSourceReversal     LedgerSource = "reversal"
	LedgerSourceAdjustment   LedgerSource = "adjustment"
	LedgerSourceCashback     LedgerSource = "cashback"
)

var validLedgerSources = []LedgerSource{
	LedgerSourceRefund,
	LedgerSourcePromo,
	LedgerSourceOrderPayment,
	LedgerSourceReversal,
	LedgerSourceAdjustment,
	LedgerSourceCashback,
}

func (s LedgerSource) String() string {
	return string(s)
}

func (s LedgerSource) IsValid() bool {
	for _, candidate := range validLedgerSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerSource converts raw input into a LedgerSource.
func ParseLedgerSource(value string) (LedgerSource, error) {
	for _, candidate := range validLedgerSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger source %q", value)
}

// LedgerEntryStatus is the lifecycle of a ledger entry. The only permitted
// mutation is success -> reversed.
type LedgerEntryStatus string

const (
	LedgerEntrySuccess  LedgerEntryStatus = "success"
	LedgerEntryReversed LedgerEntryStatus = "reversed"
	LedgerEntryPending  LedgerEntryStatus = "pending"
)

func (s LedgerEntryStatus) String() string {
	return string(s)
}

func (s LedgerEntryStatus) IsValid() bool {
	switch s {
	case LedgerEntrySuccess, LedgerEntryReversed, LedgerEntryPending:
		return true
	}
	return false
}
