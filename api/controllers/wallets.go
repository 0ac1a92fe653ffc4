package controllers

import (
	"net/http"

	"github.com/angelmondragon/greenbasket-backend/api/middleware"
	"github.com/angelmondragon/greenbasket-backend/api/responses"
	"github.com/angelmondragon/greenbasket-backend/api/validators"
	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/internal/wallets"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

const defaultEntryLimit = 20

// WalletOverview returns the balance and the latest ledger entries.
func WalletOverview(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		customerID, err := uuidParam(r, "customerID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultEntryLimit, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		overview, err := svc.Overview(r.Context(), customerID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWalletOverviewResponse(overview))
	}
}

type creditRequest struct {
	Source      enums.LedgerSource `json:"source" validate:"required,oneof=refund promo adjustment"`
	ReferenceID string             `json:"reference_id" validate:"required,max=100"`
	Amount      int64              `json:"amount" validate:"required,min=1"`
	Description string             `json:"description,omitempty" validate:"omitempty,max=200"`
}

// CreditWallet posts an operator credit. Amount is in minor units.
func CreditWallet(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		customerID, err := uuidParam(r, "customerID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req creditRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Credit(r.Context(), wallets.CreditInput{
			CustomerID:  customerID,
			Source:      req.Source,
			ReferenceID: req.ReferenceID,
			Amount:      req.Amount,
			Description: validators.SanitizeString(req.Description, maxReasonLength),
			Actor:       middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newLedgerEntryResponse(entry))
	}
}

type walletStatusRequest struct {
	Status enums.WalletStatus `json:"status" validate:"required,oneof=active blocked suspended"`
}

func SetWalletStatus(svc wallets.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		customerID, err := uuidParam(r, "customerID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req walletStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.SetStatus(r.Context(), customerID, req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{
				"customer_id": customerID.String(),
				"status":      string(wallet.Status),
				"actor_id":    middleware.ActorFromContext(r.Context()),
			}), "wallet.status_changed")
		}
		responses.WriteSuccess(w, newWalletResponse(wallet))
	}
}

// LedgerSummary compares the wallet balance with its entry totals.
func LedgerSummary(walletSvc wallets.Service, ledgerSvc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if walletSvc == nil || ledgerSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		customerID, err := uuidParam(r, "customerID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		wallet, err := walletSvc.Find(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := ledgerSvc.Summarize(r.Context(), wallet.ID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

// ReverseLedgerEntry reverses a successful debit with a REV_ credit.
func ReverseLedgerEntry(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		entryID, err := uuidParam(r, "entryID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req reverseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reverse(r.Context(), entryID, validators.SanitizeString(req.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, reverseResponse{
			Original: newLedgerEntryResponse(result.Original),
			Reversal: newLedgerEntryResponse(result.Reversal),
		})
	}
}
