package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/peptidecrm-backend/api/responses"
	"github.com/angelmondragon/peptidecrm-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/peptidecrm-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
)

const (
	maxLineNameLen        = 200
	maxShippingAddressLen = 500
	maxNotesLen           = 2000
)

// OrderCheckout stores a staff-priced order and returns the processor
// redirect for it.
func OrderCheckout(svc checkoutsvc.Service, orgID uuid.UUID, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload orderCheckoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.LineInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.LineInput{
				PeptideID: item.PeptideID,
				Name:      validators.SanitizeString(item.Name, maxLineNameLen),
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}

		result, err := svc.CreateOrderCheckout(r.Context(), checkoutsvc.OrderCheckoutInput{
			OrgID:           orgID,
			ClientID:        payload.ClientID,
			Items:           items,
			ShippingCost:    payload.ShippingCost,
			ShippingAddress: validators.SanitizeString(payload.ShippingAddress, maxShippingAddressLen),
			Notes:           validators.SanitizeString(payload.Notes, maxNotesLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

// PricedCheckout prices the requested lines server side before storing the
// order. Any price in the request body is rejected as an unknown field.
func PricedCheckout(svc checkoutsvc.Service, orgID uuid.UUID, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload pricedCheckoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.PricedLineInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.PricedLineInput{PeptideID: item.PeptideID, Quantity: item.Quantity})
		}

		result, err := svc.CreatePricedCheckout(r.Context(), checkoutsvc.PricedCheckoutInput{
			OrgID:           orgID,
			ClientID:        payload.ClientID,
			Items:           items,
			ShippingAddress: validators.SanitizeString(payload.ShippingAddress, maxShippingAddressLen),
			Notes:           validators.SanitizeString(payload.Notes, maxNotesLen),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

// PaymentLink opens a fresh session for an existing unpaid order.
func PaymentLink(svc checkoutsvc.Service, orgID uuid.UUID, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id"))
			return
		}

		result, err := svc.CreatePaymentLink(r.Context(), orgID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type orderLineRequest struct {
	PeptideID uuid.UUID       `json:"peptide_id" validate:"required"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"nonneg"`
}

type orderCheckoutRequest struct {
	ClientID        *uuid.UUID         `json:"client_id,omitempty"`
	Items           []orderLineRequest `json:"items" validate:"required,min=1,dive"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost" validate:"nonneg"`
	ShippingAddress string             `json:"shipping_address" validate:"max=500"`
	Notes           string             `json:"notes" validate:"max=2000"`
}

type pricedLineRequest struct {
	PeptideID uuid.UUID `json:"peptide_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type pricedCheckoutRequest struct {
	ClientID        *uuid.UUID          `json:"client_id,omitempty"`
	Items           []pricedLineRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress string              `json:"shipping_address" validate:"max=500"`
	Notes           string              `json:"notes" validate:"max=2000"`
}

type checkoutResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	CheckoutURL string    `json:"checkout_url"`
	SessionID   string    `json:"session_id,omitempty"`
	Total       string    `json:"total"`
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	return checkoutResponse{
		OrderID:     result.OrderID,
		CheckoutURL: result.CheckoutURL,
		SessionID:   result.SessionID,
		Total:       result.Total.StringFixed(2),
	}
}
