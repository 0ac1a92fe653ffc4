package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
)

// maxPostAttempts bounds retries after losing a concurrent seq race.
const maxPostAttempts = 5

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the append-only wallet ledger. All amounts are minor units.
type Service interface {
	GetCurrentBalance(ctx context.Context, walletID uuid.UUID) (int64, error)
	PostCredit(ctx context.Context, input PostInput) (*models.WalletTransaction, error)
	PostDebit(ctx context.Context, input PostInput) (*models.WalletTransaction, error)
	Reverse(ctx context.Context, entryID uuid.UUID, reason string) (*ReverseResult, error)
	ListEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error)
	FindByReference(ctx context.Context, source enums.LedgerSource, referenceID string) (*models.WalletTransaction, error)
	Summarize(ctx context.Context, walletID uuid.UUID) (*Summary, error)
}

// PostInput describes one posting. ReferenceID together with Source is the
// idempotency key.
type PostInput struct {
	WalletID    uuid.UUID
	Source      enums.LedgerSource
	ReferenceID string
	Amount      int64
	Description string
	Metadata    models.LedgerMetadata
	// ReversalOf links a reversal credit to the debit it compensates. Only
	// Reverse sets it; the column is unique so an entry is compensated once.
	ReversalOf *uuid.UUID
}

// ReverseResult pairs the reversed debit with its compensating credit.
type ReverseResult struct {
	Original *models.WalletTransaction
	Reversal *models.WalletTransaction
}

// Summary compares the running balance with the entry totals.
type Summary struct {
	WalletID uuid.UUID `json:"wallet_id"`
	Balance  int64     `json:"balance"`
	Credits  int64     `json:"credits"`
	Debits   int64     `json:"debits"`
	Entries  int64     `json:"entries"`
}

// Consistent reports whether the chained balance matches credits minus debits.
func (s Summary) Consistent() bool {
	return s.Balance == s.Credits-s.Debits && s.Balance >= 0
}

type service struct {
	tx      txRunner
	repo    Repository
	metrics *metrics.SettlementMetrics
}

// NewService wires the ledger service.
func NewService(tx txRunner, repo Repository, m *metrics.SettlementMetrics) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{tx: tx, repo: repo, metrics: m}, nil
}

func (s *service) GetCurrentBalance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	if walletID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	latest, err := s.repo.Latest(ctx, walletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load latest ledger entry")
	}
	return latest.ClosingBalance, nil
}

func (s *service) PostCredit(ctx context.Context, input PostInput) (*models.WalletTransaction, error) {
	return s.postWithRetry(ctx, enums.LedgerEntryCredit, input)
}

func (s *service) PostDebit(ctx context.Context, input PostInput) (*models.WalletTransaction, error) {
	return s.postWithRetry(ctx, enums.LedgerEntryDebit, input)
}

func (s *service) postWithRetry(ctx context.Context, entryType enums.LedgerEntryType, input PostInput) (*models.WalletTransaction, error) {
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxPostAttempts; attempt++ {
		var entry *models.WalletTransaction
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var perr error
			entry, perr = s.post(ctx, s.repo.WithTx(tx), entryType, input)
			return perr
		})
		if err == nil {
			s.metrics.IncPosting(string(entryType), string(input.Source), "success")
			return entry, nil
		}
		if !db.IsUniqueViolation(err, "") {
			s.metrics.IncPosting(string(entryType), string(input.Source), outcomeFor(err))
			return nil, err
		}

		// The failed transaction is gone; decide which constraint fired.
		if _, ferr := s.repo.FindByReference(ctx, input.Source, input.ReferenceID); ferr == nil {
			s.metrics.IncPosting(string(entryType), string(input.Source), "duplicate")
			return nil, duplicateError(input)
		} else if !errors.Is(ferr, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ferr, "check ledger reference")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	s.metrics.IncPosting(string(entryType), string(input.Source), "contention")
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet is busy, retry the posting").
		WithDetails(map[string]any{"wallet_id": input.WalletID.String()})
}

// post appends one entry inside tx. The wallet row lock plus the
// (wallet_id, seq) unique index keep read-balance-then-insert atomic.
func (s *service) post(ctx context.Context, repo Repository, entryType enums.LedgerEntryType, input PostInput) (*models.WalletTransaction, error) {
	wallet, err := repo.LockWallet(ctx, input.WalletID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrWalletNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock wallet")
	}
	if wallet.Status != enums.WalletStatusActive && input.Source != enums.LedgerSourceReversal {
		return nil, pkgerrors.Wrap(pkgerrors.CodeBusinessRule, ErrWalletInactive, "wallet is not active").
			WithDetails(map[string]any{"reason": "wallet_inactive", "status": wallet.Status.String()})
	}

	if _, err := repo.FindByReference(ctx, input.Source, input.ReferenceID); err == nil {
		return nil, duplicateError(input)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check ledger reference")
	}

	var opening, nextSeq int64 = 0, 1
	latest, err := repo.Latest(ctx, input.WalletID)
	switch {
	case err == nil:
		opening = latest.ClosingBalance
		nextSeq = latest.Seq + 1
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load latest ledger entry")
	}

	closing := opening + input.Amount
	if entryType == enums.LedgerEntryDebit {
		if opening < input.Amount {
			return nil, pkgerrors.Wrap(pkgerrors.CodeBusinessRule, ErrInsufficientBalance, "insufficient wallet balance").
				WithDetails(map[string]any{
					"reason":    "insufficient_balance",
					"available": opening,
					"requested": input.Amount,
				})
		}
		closing = opening - input.Amount
	}

	entry := &models.WalletTransaction{
		WalletID:       input.WalletID,
		Seq:            nextSeq,
		Type:           entryType,
		Source:         input.Source,
		ReferenceID:    input.ReferenceID,
		Amount:         input.Amount,
		OpeningBalance: opening,
		ClosingBalance: closing,
		Status:         enums.LedgerEntrySuccess,
		Description:    input.Description,
		Metadata:       input.Metadata,
		ReversalOf:     input.ReversalOf,
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Reverse(ctx context.Context, entryID uuid.UUID, reason string) (*ReverseResult, error) {
	if entryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "entry id is required")
	}

	original, err := s.repo.FindByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrEntryNotFound, "ledger entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load ledger entry")
	}
	if err := checkReversible(original); err != nil {
		return nil, err
	}

	originalID := original.ID
	input := PostInput{
		WalletID:    original.WalletID,
		ReversalOf:  &originalID,
		Source:      enums.LedgerSourceReversal,
		ReferenceID: ReversalReference(original.ReferenceID),
		Amount:      original.Amount,
		Description: "Reversal of " + original.ReferenceID,
		Metadata: models.LedgerMetadata{
			OrderID:         original.Metadata.OrderID,
			OriginalEntryID: original.ID.String(),
			Reason:          strings.TrimSpace(reason),
		},
	}

	for attempt := 0; attempt < maxPostAttempts; attempt++ {
		var result *ReverseResult
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			flipped, ferr := repo.MarkReversed(ctx, original.ID)
			if ferr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, ferr, "mark entry reversed")
			}
			if !flipped {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyReversed, "ledger entry already reversed")
			}
			credit, perr := s.post(ctx, repo, enums.LedgerEntryCredit, input)
			if perr != nil {
				return perr
			}
			reversed := *original
			reversed.Status = enums.LedgerEntryReversed
			result = &ReverseResult{Original: &reversed, Reversal: credit}
			return nil
		})
		if err == nil {
			s.metrics.IncPosting(string(enums.LedgerEntryCredit), string(enums.LedgerSourceReversal), "success")
			return result, nil
		}
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
		if _, ferr := s.repo.FindByReference(ctx, input.Source, input.ReferenceID); ferr == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyReversed, "ledger entry already reversed")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "wallet is busy, retry the reversal")
}

func (s *service) ListEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletTransaction, error) {
	if walletID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	}
	entries, err := s.repo.List(ctx, walletID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	return entries, nil
}

func (s *service) FindByReference(ctx context.Context, source enums.LedgerSource, referenceID string) (*models.WalletTransaction, error) {
	entry, err := s.repo.FindByReference(ctx, source, referenceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrEntryNotFound, "ledger entry not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find ledger entry")
	}
	return entry, nil
}

func (s *service) Summarize(ctx context.Context, walletID uuid.UUID) (*Summary, error) {
	balance, err := s.GetCurrentBalance(ctx, walletID)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.Totals(ctx, walletID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum ledger entries")
	}
	return &Summary{
		WalletID: walletID,
		Balance:  balance,
		Credits:  totals.Credits,
		Debits:   totals.Debits,
		Entries:  totals.Entries,
	}, nil
}

func checkReversible(entry *models.WalletTransaction) error {
	if entry.Type != enums.LedgerEntryDebit {
		return pkgerrors.Wrap(pkgerrors.CodeBusinessRule, ErrNotReversible, "only debits can be reversed").
			WithDetails(map[string]any{"reason": "not_reversible"})
	}
	switch entry.Status {
	case enums.LedgerEntrySuccess:
		return nil
	case enums.LedgerEntryReversed:
		return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyReversed, "ledger entry already reversed")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeBusinessRule, ErrNotReversible, "entry is not settled").
			WithDetails(map[string]any{"reason": "not_reversible", "status": entry.Status.String()})
	}
}

func validatePostInput(input PostInput) error {
	switch {
	case input.WalletID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "wallet id is required")
	case !input.Source.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger source %q", input.Source))
	case strings.TrimSpace(input.ReferenceID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	case input.Amount < 1:
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be a positive number of minor units")
	case input.ReversalOf != nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "reversal links are set by Reverse only")
	}
	return nil
}

func duplicateError(input PostInput) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrDuplicateReference, "reference already posted").
		WithDetails(map[string]any{
			"reference_id": input.ReferenceID,
			"source":       input.Source.String(),
		})
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate"
	case errors.Is(err, ErrWalletInactive):
		return "wallet_inactive"
	default:
		return "error"
	}
}
