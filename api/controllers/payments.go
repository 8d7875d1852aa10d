package controllers

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/api/responses"
	"github.com/loc-ne/roomstay-backend/api/validators"
	"github.com/loc-ne/roomstay-backend/internal/payments"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
)

type createPaymentURLRequest struct {
	BookingID string `json:"booking_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"omitempty,gt=0"`
	BankCode  string `json:"bank_code" validate:"omitempty,max=20"`
	Locale    string `json:"locale" validate:"omitempty,oneof=vn en"`
}

// PaymentCreateURL returns a signed gateway redirect for the renter's approved booking.
func PaymentCreateURL(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentURLRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bookingID, err := uuid.Parse(payload.BookingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid booking id"))
			return
		}

		result, err := svc.CreatePaymentURL(r.Context(), payments.CreateURLInput{
			UserID:    userID,
			BookingID: bookingID,
			Amount:    payload.Amount,
			BankCode:  payload.BankCode,
			Locale:    payload.Locale,
			ClientIP:  clientIP(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentReturn handles the payer's browser redirect back from the gateway.
func PaymentReturn(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		result, err := svc.HandleReturn(r.Context(), r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentIPN handles the gateway's server-to-server callback. The response
// body always uses the gateway's own vocabulary, never the API envelope.
func PaymentIPN(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		responses.WriteRaw(w, http.StatusOK, svc.HandleIPN(r.Context(), r.URL.Query()))
	}
}

// clientIP extracts the caller address, preferring the proxy-set header.
func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
