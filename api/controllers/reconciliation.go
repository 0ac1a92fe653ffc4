package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/greenbasket-backend/api/middleware"
	"github.com/angelmondragon/greenbasket-backend/api/responses"
	"github.com/angelmondragon/greenbasket-backend/api/validators"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

// ReconciliationCases lists cases, open ones by default.
func ReconciliationCases(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := enums.ReconciliationOpen
		if raw := validators.QueryString(r, "status", 32); raw != "" {
			status = enums.ReconciliationStatus(strings.ToLower(raw))
		}

		cases, err := svc.List(r.Context(), status, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"cases": newCaseResponses(cases)})
	}
}

type resolveRequest struct {
	Note string `json:"note" validate:"required,max=500"`
}

func ResolveReconciliationCase(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation service unavailable"))
			return
		}
		caseID, err := uuidParam(r, "caseID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		note := validators.SanitizeString(req.Note, 500)
		if actor := middleware.ActorFromContext(r.Context()); actor != "" {
			note = actor + ": " + note
		}
		if err := svc.Resolve(r.Context(), caseID, note); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": string(enums.ReconciliationResolved)})
	}
}
