package wallets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

// Service owns wallet lifecycle. Money movement goes through the ledger.
type Service interface {
	GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.Wallet, error)
	Find(ctx context.Context, customerID uuid.UUID) (*models.Wallet, error)
	Balance(ctx context.Context, customerID uuid.UUID) (int64, error)
	Overview(ctx context.Context, customerID uuid.UUID, limit int) (*Overview, error)
	Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error)
	SetStatus(ctx context.Context, customerID uuid.UUID, status enums.WalletStatus) (*models.Wallet, error)
}

// Overview is the customer-facing wallet view.
type Overview struct {
	Wallet  *models.Wallet             `json:"wallet"`
	Balance int64                      `json:"balance"`
	Entries []models.WalletTransaction `json:"entries"`
}

// CreditInput is an operator-issued credit such as a refund or promotion.
type CreditInput struct {
	CustomerID  uuid.UUID
	Source      enums.LedgerSource
	ReferenceID string
	Amount      int64
	Description string
	Actor       string
}

var creditSources = map[enums.LedgerSource]bool{
	enums.LedgerSourceRefund:     true,
	enums.LedgerSourcePromo:      true,
	enums.LedgerSourceAdjustment: true,
	enums.LedgerSourceCashback:   true,
}

type service struct {
	repo   Repository
	ledger ledger.Service
}

func NewService(repo Repository, ledgerSvc ledger.Service) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &service{repo: repo, ledger: ledgerSvc}, nil
}

// GetOrCreate lazily opens a wallet. Two concurrent callers race on the unique
// customer index; the loser re-reads the winner's row.
func (s *service) GetOrCreate(ctx context.Context, customerID uuid.UUID) (*models.Wallet, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	wallet, err := s.repo.FindByCustomer(ctx, customerID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}

	wallet = &models.Wallet{CustomerID: customerID, Status: enums.WalletStatusActive}
	if err := s.repo.Create(ctx, wallet); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet")
		}
		existing, ferr := s.repo.FindByCustomer(ctx, customerID)
		if ferr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, ferr, "reload wallet")
		}
		return existing, nil
	}
	return wallet, nil
}

func (s *service) Find(ctx context.Context, customerID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.FindByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ledger.ErrWalletNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	return wallet, nil
}

// Balance is zero for customers without a wallet.
func (s *service) Balance(ctx context.Context, customerID uuid.UUID) (int64, error) {
	wallet, err := s.Find(ctx, customerID)
	if err != nil {
		if errors.Is(err, ledger.ErrWalletNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return s.ledger.GetCurrentBalance(ctx, wallet.ID)
}

func (s *service) Overview(ctx context.Context, customerID uuid.UUID, limit int) (*Overview, error) {
	wallet, err := s.GetOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.GetCurrentBalance(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListEntries(ctx, wallet.ID, limit)
	if err != nil {
		return nil, err
	}
	return &Overview{Wallet: wallet, Balance: balance, Entries: entries}, nil
}

func (s *service) Credit(ctx context.Context, input CreditInput) (*models.WalletTransaction, error) {
	if !creditSources[input.Source] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("source %q cannot be credited directly", input.Source))
	}
	wallet, err := s.GetOrCreate(ctx, input.CustomerID)
	if err != nil {
		return nil, err
	}
	return s.ledger.PostCredit(ctx, ledger.PostInput{
		WalletID:    wallet.ID,
		Source:      input.Source,
		ReferenceID: input.ReferenceID,
		Amount:      input.Amount,
		Description: input.Description,
		Metadata:    models.LedgerMetadata{Actor: input.Actor},
	})
}

func (s *service) SetStatus(ctx context.Context, customerID uuid.UUID, status enums.WalletStatus) (*models.Wallet, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid wallet status %q", status))
	}
	wallet, err := s.GetOrCreate(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if wallet.Status == status {
		return wallet, nil
	}
	if err := s.repo.UpdateStatus(ctx, wallet.ID, status); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update wallet status")
	}
	wallet.Status = status
	return wallet, nil
}
