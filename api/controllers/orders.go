package controllers

import (
	"net/http"

	"github.com/angelmondragon/greenbasket-backend/api/responses"
	"github.com/angelmondragon/greenbasket-backend/api/validators"
	"github.com/angelmondragon/greenbasket-backend/internal/orders"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	pkgpagination "github.com/angelmondragon/greenbasket-backend/pkg/pagination"
)

func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		orderID, err := stringParam(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// CustomerOrders lists a customer's orders newest first, optionally
// filtered by ?status=.
func CustomerOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		customerID, err := uuidParam(r, "customerID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pkgpagination.DefaultLimit, 1, pkgpagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := orders.ListParams{
			CustomerID: customerID,
			Params: pkgpagination.Params{
				Limit:  limit,
				Cursor: validators.QueryString(r, "cursor", 256),
			},
		}
		if raw := validators.QueryString(r, "status", 32); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			params.Status = status
		}

		list, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}
