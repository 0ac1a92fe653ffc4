package enums

import "fmt"

// WalletStatus controls whether a wallet accepts postings.
type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "active"
	WalletStatusBlocked   WalletStatus = "blocked"
	WalletStatusSuspended WalletStatus = "suspended"
)

var validWalletStatuses = []WalletStatus{
	WalletStatusActive,
	WalletStatusBlocked,
	WalletStatusSuspended,
}

// String implements fmt.Stringer.
func (w WalletStatus) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletStatus.
func (w WalletStatus) IsValid() bool {
	for _, candidate := range validWalletStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWalletStatus converts raw input into a WalletStatus.
func ParseWalletStatus(value string) (WalletStatus, error) {
	for _, candidate := range validWalletStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid wallet status %q", value)
}
