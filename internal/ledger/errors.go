package ledger

import "errors"

var (
	ErrDuplicateReference  = errors.New("ledger reference already posted")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrWalletInactive      = errors.New("wallet is not active")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrAlreadyReversed     = errors.New("ledger entry already reversed")
	ErrNotReversible       = errors.New("ledger entry is not reversible")
)

// ReversalReference is the reference id of the compensating credit for ref.
func ReversalReference(ref string) string {
	return "REV_" + ref
}
