package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/api/middleware"
	"github.com/loc-ne/roomstay-backend/api/responses"
	"github.com/loc-ne/roomstay-backend/api/validators"
	"github.com/loc-ne/roomstay-backend/internal/disputes"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
)

type createDisputeRequest struct {
	BookingID      string   `json:"booking_id" validate:"required,uuid"`
	Reason         string   `json:"reason" validate:"required,max=2000"`
	EvidenceImages []string `json:"evidence_images" validate:"omitempty,max=10,dive,max=500"`
}

type resolveDisputeRequest struct {
	Status       string `json:"status" validate:"required,oneof=resolved_refund resolved_denied"`
	Reason       string `json:"reason" validate:"required,max=2000"`
	RefundAmount int64  `json:"refund_amount" validate:"omitempty,gt=0"`
}

// CreateDispute opens a deposit dispute on the renter's own booking.
func CreateDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		renterID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createDisputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		bookingID, err := uuid.Parse(payload.BookingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid booking id"))
			return
		}

		dispute, err := svc.Create(r.Context(), disputes.CreateInput{
			RenterID:       renterID,
			BookingID:      bookingID,
			Reason:         validators.SanitizeString(payload.Reason, 2000),
			EvidenceImages: payload.EvidenceImages,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// ResolveDispute applies an administrator decision to a pending dispute.
func ResolveDispute(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		adminID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := parseDisputeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseDisputeStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		result, err := svc.Resolve(r.Context(), disputes.ResolveInput{
			DisputeID:    disputeID,
			AdminID:      adminID,
			AdminRole:    roleFromRequest(r),
			Status:       status,
			Note:         validators.SanitizeString(payload.Reason, 2000),
			RefundAmount: payload.RefundAmount,
			ClientIP:     clientIP(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// RetryDisputeRefund re-drives the gateway refund for a resolved dispute.
func RetryDisputeRefund(svc disputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "disputes service unavailable"))
			return
		}

		adminID, err := userIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		disputeID, err := parseDisputeID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.RetryRefund(r.Context(), disputes.RetryRefundInput{
			DisputeID: disputeID,
			AdminID:   adminID,
			AdminRole: roleFromRequest(r),
			ClientIP:  clientIP(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

func parseDisputeID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "disputeId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid dispute id")
	}
	return id, nil
}

func roleFromRequest(r *http.Request) enums.UserRole {
	return enums.UserRole(middleware.RoleFromContext(r.Context()))
}
