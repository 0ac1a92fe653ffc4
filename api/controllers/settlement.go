package controllers

import (
	"net/http"

	"github.com/angelmondragon/greenbasket-backend/api/middleware"
	"github.com/angelmondragon/greenbasket-backend/api/responses"
	"github.com/angelmondragon/greenbasket-backend/api/validators"
	"github.com/angelmondragon/greenbasket-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

const maxReasonLength = 200

// Quote prices a cart without touching stock or the wallet.
func Quote(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var req settlement.QuoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Quote(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// PlaceOrder answers 201 when an order or payment intent was created and
// 200 with the shortfall when the wallet cannot cover a WALLET order.
func PlaceOrder(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var req settlement.PlaceOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req.Customer.Name = validators.SanitizeString(req.Customer.Name, 120)

		result, err := svc.PlaceOrder(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.WalletShortfall != nil {
			responses.WriteSuccess(w, newPlaceOrderResponse(result))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPlaceOrderResponse(result))
	}
}

func VerifyPayment(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var req settlement.VerifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.VerifyPayment(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, verifyPaymentResponse{
			Order:                  newOrderResponse(result.Order),
			ReconciliationRequired: result.ReconciliationRequired,
		})
	}
}

func UpdateOrderStatus(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		orderID, err := stringParam(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req settlement.StatusUpdateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		req.OrderID = orderID
		req.Reason = validators.SanitizeString(req.Reason, maxReasonLength)
		req.Actor = middleware.ActorFromContext(r.Context())

		order, err := svc.UpdateOrderStatus(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}
