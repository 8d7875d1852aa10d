package disputes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loc-ne/roomstay-backend/internal/bookings"
	"github.com/loc-ne/roomstay-backend/internal/notifications"
	"github.com/loc-ne/roomstay-backend/internal/transactions"
	"github.com/loc-ne/roomstay-backend/internal/units"
	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/vnpay"
)

// cancelAfterRefundNote is stored on a booking cancelled through a refund resolution.
const cancelAfterRefundNote = "deposit refunded after dispute review"

// Service adjudicates deposit disputes.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*models.Dispute, error)
	Resolve(ctx context.Context, in ResolveInput) (*ResolveResult, error)
	RetryRefund(ctx context.Context, in RetryRefundInput) (*RefundOutcome, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	tx       txRunner
	repo     Repository
	bookings bookings.Repository
	ledger   transactions.Repository
	units    units.Repository
	notifier notifications.Service
	gateway  vnpay.Client
	logg     *logger.Logger
	now      func() time.Time
}

// CreateInput carries a renter's claim against a booking deposit.
type CreateInput struct {
	RenterID       uuid.UUID
	BookingID      uuid.UUID
	Reason         string
	EvidenceImages []string
}

// ResolveInput carries an administrator's decision on a pending dispute.
type ResolveInput struct {
	DisputeID    uuid.UUID
	AdminID      uuid.UUID
	AdminRole    enums.UserRole
	Status       enums.DisputeStatus
	Note         string
	RefundAmount int64
	ClientIP     string
}

// RetryRefundInput re-drives the gateway call for a refund that has not settled.
type RetryRefundInput struct {
	DisputeID uuid.UUID
	AdminID   uuid.UUID
	AdminRole enums.UserRole
	ClientIP  string
}

// RefundOutcome reports the gateway's verdict on the refund attempt. The
// resolution itself is durable regardless; a failed attempt can be re-driven.
type RefundOutcome struct {
	Attempted bool   `json:"attempted"`
	Settled   bool   `json:"settled"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ResolveResult returns the resolved dispute plus, for refund decisions, the
// ledger entry and the outcome of the upstream refund call.
type ResolveResult struct {
	Dispute           *models.Dispute     `json:"dispute"`
	RefundTransaction *models.Transaction `json:"refund_transaction,omitempty"`
	Refund            *RefundOutcome      `json:"refund,omitempty"`
}

// NewService wires dispute dependencies.
func NewService(
	tx txRunner,
	repo Repository,
	bookingRepo bookings.Repository,
	ledger transactions.Repository,
	unitsRepo units.Repository,
	notifier notifications.Service,
	gateway vnpay.Client,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "disputes repository required")
	}
	if bookingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bookings repository required")
	}
	if ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transactions repository required")
	}
	if unitsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "units repository required")
	}
	if notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications service required")
	}
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		tx:       tx,
		repo:     repo,
		bookings: bookingRepo,
		ledger:   ledger,
		units:    unitsRepo,
		notifier: notifier,
		gateway:  gateway,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Create opens a PENDING_REVIEW dispute on the renter's own booking. A booking
// carries at most one dispute, checked inside the same transaction that
// persists the new row.
func (s *service) Create(ctx context.Context, in CreateInput) (*models.Dispute, error) {
	if in.RenterID == uuid.Nil || in.BookingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "renter id and booking id required")
	}
	if in.Reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason required")
	}

	dispute := &models.Dispute{
		BookingID:      in.BookingID,
		RenterID:       in.RenterID,
		Reason:         in.Reason,
		EvidenceImages: in.EvidenceImages,
		Status:         enums.DisputeStatusPendingReview,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		booking, err := s.bookings.WithTx(tx).FindByID(ctx, in.BookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
		}
		if booking == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		if booking.RenterID != in.RenterID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "booking belongs to another renter")
		}
		if booking.Status != enums.BookingStatusConfirmed && booking.Status != enums.BookingStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("booking is %s, disputes require an approved or confirmed booking", booking.Status))
		}

		exists, err := s.repo.WithTx(tx).ExistsForBooking(ctx, in.BookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing dispute")
		}
		if exists {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "booking already has a dispute")
		}

		if err := s.repo.WithTx(tx).Create(ctx, dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}

		unit, err := s.units.WithTx(tx).FindByID(ctx, booking.UnitID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit")
		}
		if unit != nil {
			if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
				UserID: unit.HostID,
				Type:   enums.NotificationDisputeOpened,
				Title:  "Dispute opened",
				Body:   "A renter opened a deposit dispute on one of your bookings.",
				Data:   map[string]any{"dispute_id": dispute.ID.String(), "booking_id": booking.ID.String()},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithBookingID(ctx, in.BookingID.String())
	ctx = s.logg.WithField(ctx, "dispute_id", dispute.ID.String())
	s.logg.Info(ctx, "dispute opened")
	return dispute, nil
}

// Resolve applies an administrator's decision. For RESOLVED_REFUND the dispute,
// the booking cancellation, the refund ledger entry and both notifications
// commit as one unit; the upstream gateway refund runs after the commit and its
// failure never rolls the decision back.
func (s *service) Resolve(ctx context.Context, in ResolveInput) (*ResolveResult, error) {
	if in.AdminRole != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "administrator role required")
	}
	if in.DisputeID == uuid.Nil || in.AdminID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id and admin id required")
	}
	if !in.Status.IsResolved() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be a resolved status")
	}

	var (
		dispute   *models.Dispute
		refundTx  *models.Transaction
		depositTx *models.Transaction
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		dispute, err = s.repo.WithTx(tx).FindByIDForUpdate(ctx, in.DisputeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
		}
		if dispute == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		if dispute.Status != enums.DisputeStatusPendingReview {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "dispute already resolved")
		}

		booking, err := s.bookings.WithTx(tx).FindByIDForUpdate(ctx, dispute.BookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
		}
		if booking == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}

		refundAmount := int64(0)
		if in.Status == enums.DisputeStatusResolvedRefund {
			if in.RefundAmount <= 0 || in.RefundAmount > booking.DepositAmount {
				return pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be positive and within the deposit").
					WithDetails(map[string]any{"max": booking.DepositAmount})
			}
			refundAmount = in.RefundAmount
		}

		if err := s.repo.WithTx(tx).Resolve(ctx, dispute.ID, in.Status, in.Note, refundAmount); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
		}
		dispute.Status = in.Status
		dispute.AdminDecisionNote = &in.Note
		dispute.RefundAmount = refundAmount

		if in.Status == enums.DisputeStatusResolvedRefund {
			if err := s.bookings.WithTx(tx).UpdateStatusWithCancel(ctx, booking.ID, enums.BookingStatusCancelledByHost, cancelAfterRefundNote); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel booking")
			}

			depositTx, err = s.ledger.WithTx(tx).FindByBookingAndType(ctx, booking.ID, enums.TransactionTypeDeposit)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deposit transaction")
			}

			refundTx = &models.Transaction{
				BookingID:       booking.ID,
				UserID:          dispute.RenterID,
				Amount:          refundAmount,
				Type:            enums.TransactionTypeRefund,
				Status:          enums.TransactionStatusPending,
				GatewayOrderRef: transactions.RefundOrderRef(dispute.ID, s.now()),
				Description:     fmt.Sprintf("Refund for booking %s", booking.ID),
			}
			if err := s.ledger.WithTx(tx).Create(ctx, refundTx); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund transaction")
			}
		}

		return s.notifyResolution(ctx, tx, dispute, booking)
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithBookingID(ctx, dispute.BookingID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"dispute_id": dispute.ID.String(),
		"status":     dispute.Status.String(),
	})
	s.logg.Info(ctx, "dispute resolved")

	result := &ResolveResult{Dispute: dispute, RefundTransaction: refundTx}
	if refundTx != nil {
		result.Refund = s.driveRefund(ctx, depositTx, refundTx, in.AdminID, in.ClientIP)
	}
	return result, nil
}

// RetryRefund re-drives the gateway refund for a resolved-refund dispute whose
// refund transaction has not reached REFUNDED.
func (s *service) RetryRefund(ctx context.Context, in RetryRefundInput) (*RefundOutcome, error) {
	if in.AdminRole != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "administrator role required")
	}
	if in.DisputeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id required")
	}

	dispute, err := s.repo.FindByID(ctx, in.DisputeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if dispute == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	if dispute.Status != enums.DisputeStatusResolvedRefund {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute was not resolved with a refund")
	}

	refundTx, err := s.ledger.FindByBookingAndType(ctx, dispute.BookingID, enums.TransactionTypeRefund)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund transaction")
	}
	if refundTx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund transaction not found")
	}
	if refundTx.Status == enums.TransactionStatusRefunded {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund already settled")
	}

	depositTx, err := s.ledger.FindByBookingAndType(ctx, dispute.BookingID, enums.TransactionTypeDeposit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deposit transaction")
	}

	ctx = s.logg.WithBookingID(ctx, dispute.BookingID.String())
	return s.driveRefund(ctx, depositTx, refundTx, in.AdminID, in.ClientIP), nil
}

// notifyResolution tells both parties about the decision inside the same tx.
func (s *service) notifyResolution(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, booking *models.Booking) error {
	data := map[string]any{
		"dispute_id": dispute.ID.String(),
		"booking_id": booking.ID.String(),
		"status":     dispute.Status.String(),
	}
	body := "Your deposit dispute was reviewed and denied."
	if dispute.Status == enums.DisputeStatusResolvedRefund {
		body = "Your deposit dispute was resolved with a refund."
	}
	if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
		UserID: dispute.RenterID,
		Type:   enums.NotificationDisputeResolved,
		Title:  "Dispute resolved",
		Body:   body,
		Data:   data,
	}); err != nil {
		return err
	}

	unit, err := s.units.WithTx(tx).FindByID(ctx, booking.UnitID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit")
	}
	if unit == nil {
		return nil
	}
	return s.notifier.Notify(ctx, tx, notifications.NotifyInput{
		UserID: unit.HostID,
		Type:   enums.NotificationDisputeResolved,
		Title:  "Dispute resolved",
		Body:   "A dispute on one of your bookings was resolved.",
		Data:   data,
	})
}

// driveRefund calls the gateway and records the verdict on the refund
// transaction. Transport failures leave the row PENDING so the call can be
// retried; a business rejection marks it FAILED.
func (s *service) driveRefund(ctx context.Context, depositTx, refundTx *models.Transaction, adminID uuid.UUID, clientIP string) *RefundOutcome {
	ctx = s.logg.WithField(ctx, "refund_order_ref", refundTx.GatewayOrderRef)
	if depositTx == nil || depositTx.GatewayTransactionNo == nil {
		s.logg.Warn(ctx, "refund not attempted, settled deposit transaction missing")
		return &RefundOutcome{Attempted: false, Message: "no settled deposit transaction to refund against"}
	}

	result, err := s.gateway.Refund(ctx, vnpay.RefundInput{
		OrderRef:        depositTx.GatewayOrderRef,
		Amount:          refundTx.Amount,
		TransactionNo:   *depositTx.GatewayTransactionNo,
		TransactionDate: vnpay.FormatTimestamp(depositTx.UpdatedAt),
		CreatedBy:       adminID.String(),
		ClientIP:        clientIP,
		OrderInfo:       refundTx.Description,
	})
	outcome := &RefundOutcome{Attempted: true}
	if result != nil {
		outcome.Code = result.Code
		outcome.Message = result.Message
	}

	typed := pkgerrors.As(err)
	switch {
	case err == nil:
		if updateErr := s.ledger.UpdateStatus(ctx, refundTx.ID, enums.TransactionStatusRefunded); updateErr != nil {
			s.logg.Error(ctx, "mark refund transaction refunded", updateErr)
		} else {
			outcome.Settled = true
		}
		s.logg.Info(ctx, "gateway refund accepted")
	case typed != nil && typed.Code() == pkgerrors.CodeGatewayBusiness:
		if updateErr := s.ledger.UpdateStatus(ctx, refundTx.ID, enums.TransactionStatusFailed); updateErr != nil {
			s.logg.Error(ctx, "mark refund transaction failed", updateErr)
		}
		s.logg.Warn(ctx, "gateway rejected refund")
	default:
		// Transport failure: the row stays PENDING and the admin can re-drive.
		outcome.Message = err.Error()
		s.logg.Error(ctx, "gateway refund attempt failed", err)
	}
	return outcome
}
