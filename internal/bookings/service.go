package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/loc-ne/roomstay-backend/internal/notifications"
	"github.com/loc-ne/roomstay-backend/internal/units"
	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	pkgerrors "github.com/loc-ne/roomstay-backend/pkg/errors"
	"github.com/loc-ne/roomstay-backend/pkg/logger"
	"github.com/loc-ne/roomstay-backend/pkg/pagination"
)

// siblingRejectReason is stored on every pending booking displaced by an approval.
const siblingRejectReason = "unit no longer available"

// Service defines the booking lifecycle operations.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*models.Booking, error)
	Approve(ctx context.Context, hostID, bookingID uuid.UUID) (*models.Booking, error)
	Reject(ctx context.Context, hostID, bookingID uuid.UUID, reason string) error
	CancelByRenter(ctx context.Context, renterID, bookingID uuid.UUID, reason string) error
	Confirm(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	tx       txRunner
	repo     Repository
	units    units.Repository
	notifier notifications.Service
	logg     *logger.Logger
}

// CreateInput carries the renter's booking request.
type CreateInput struct {
	RenterID   uuid.UUID
	UnitID     uuid.UUID
	MoveInDate time.Time
}

// ListParams filters the booking listing.
type ListParams struct {
	RenterID *uuid.UUID
	HostID   *uuid.UUID
	UnitID   *uuid.UUID
	Status   *enums.BookingStatus
	Limit    int
	Cursor   string
}

// ListResult wraps returned bookings and the cursor for the next page.
type ListResult struct {
	Items  []models.Booking `json:"items"`
	Cursor string           `json:"cursor"`
}

// NewService wires booking dependencies.
func NewService(tx txRunner, repo Repository, unitsRepo units.Repository, notifier notifications.Service, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "bookings repository required")
	}
	if unitsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "units repository required")
	}
	if notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{tx: tx, repo: repo, units: unitsRepo, notifier: notifier, logg: logg}, nil
}

// Create snapshots the unit's current price and deposit onto a PENDING booking.
func (s *service) Create(ctx context.Context, in CreateInput) (*models.Booking, error) {
	if in.RenterID == uuid.Nil || in.UnitID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "renter id and unit id required")
	}
	if in.MoveInDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "move-in date required")
	}

	unit, err := s.units.FindByID(ctx, in.UnitID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit")
	}
	if unit == nil || !unit.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
	}

	booking := &models.Booking{
		RenterID:      in.RenterID,
		UnitID:        in.UnitID,
		MoveInDate:    in.MoveInDate,
		DepositAmount: unit.Deposit,
		TotalPrice:    unit.Price,
		Status:        enums.BookingStatusPending,
	}
	if err := s.repo.Create(ctx, booking); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create booking")
	}

	ctx = s.logg.WithBookingID(ctx, booking.ID.String())
	s.logg.Info(ctx, "booking created")
	return booking, nil
}

// Approve transitions the booking to APPROVED and rejects every other PENDING
// booking on the same unit in the same transaction, so two hosts racing on
// sibling bookings cannot double-let the unit.
func (s *service) Approve(ctx context.Context, hostID, bookingID uuid.UUID) (*models.Booking, error) {
	var approved *models.Booking
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		booking, err := repo.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
		}
		if booking == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		if err := s.requireHostOwnsUnit(ctx, tx, hostID, booking.UnitID); err != nil {
			return err
		}
		if booking.Status != enums.BookingStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("booking is %s, only pending bookings can be approved", booking.Status))
		}

		if err := repo.UpdateStatus(ctx, bookingID, enums.BookingStatusApproved); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve booking")
		}
		booking.Status = enums.BookingStatusApproved

		siblings, err := repo.BulkRejectPending(ctx, booking.UnitID, bookingID, siblingRejectReason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject sibling bookings")
		}

		if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			UserID: booking.RenterID,
			Type:   enums.NotificationBookingApproved,
			Title:  "Booking approved",
			Body:   "Your booking was approved. Please complete the deposit payment.",
			Data:   map[string]any{"booking_id": booking.ID.String()},
		}); err != nil {
			return err
		}
		for _, sibling := range siblings {
			if err := s.notifier.Notify(ctx, tx, notifications.NotifyInput{
				UserID: sibling.RenterID,
				Type:   enums.NotificationBookingRejected,
				Title:  "Booking rejected",
				Body:   siblingRejectReason,
				Data:   map[string]any{"booking_id": sibling.ID.String()},
			}); err != nil {
				return err
			}
		}

		approved = booking
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithBookingID(ctx, bookingID.String())
	s.logg.Info(ctx, "booking approved")
	return approved, nil
}

// Reject marks a PENDING booking rejected with the host's reason.
func (s *service) Reject(ctx context.Context, hostID, bookingID uuid.UUID, reason string) error {
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reject reason required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		booking, err := repo.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
		}
		if booking == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		if err := s.requireHostOwnsUnit(ctx, tx, hostID, booking.UnitID); err != nil {
			return err
		}
		if booking.Status != enums.BookingStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("booking is %s, only pending bookings can be rejected", booking.Status))
		}

		if err := repo.UpdateStatusWithReject(ctx, bookingID, enums.BookingStatusRejected, reason); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject booking")
		}

		return s.notifier.Notify(ctx, tx, notifications.NotifyInput{
			UserID: booking.RenterID,
			Type:   enums.NotificationBookingRejected,
			Title:  "Booking rejected",
			Body:   reason,
			Data:   map[string]any{"booking_id": booking.ID.String()},
		})
	})
	if err != nil {
		return err
	}

	ctx = s.logg.WithBookingID(ctx, bookingID.String())
	s.logg.Info(ctx, "booking rejected")
	return nil
}

// CancelByRenter lets the renter back out while the booking is still PENDING or APPROVED.
func (s *service) CancelByRenter(ctx context.Context, renterID, bookingID uuid.UUID, reason string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		booking, err := repo.FindByIDForUpdate(ctx, bookingID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
		}
		if booking == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		if booking.RenterID != renterID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "booking belongs to another renter")
		}
		if !booking.Status.IsCancellableByRenter() {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("booking is %s and can no longer be cancelled", booking.Status))
		}

		return repo.UpdateStatusWithCancel(ctx, bookingID, enums.BookingStatusCancelledByRenter, reason)
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel booking")
	}

	ctx = s.logg.WithBookingID(ctx, bookingID.String())
	s.logg.Info(ctx, "booking cancelled by renter")
	return nil
}

// Confirm is invoked by the payment ledger inside its own transaction after a
// verified successful payment. Confirming an already-CONFIRMED booking is a
// no-op because the gateway can deliver the same confirmation twice.
func (s *service) Confirm(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error {
	repo := s.repo.WithTx(tx)

	booking, err := repo.FindByIDForUpdate(ctx, bookingID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	if booking == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	if booking.Status == enums.BookingStatusConfirmed {
		return nil
	}
	if booking.Status != enums.BookingStatusApproved {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("booking is %s, only approved bookings can be confirmed", booking.Status))
	}

	if err := repo.UpdateStatus(ctx, bookingID, enums.BookingStatusConfirmed); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm booking")
	}

	return s.notifier.Notify(ctx, tx, notifications.NotifyInput{
		UserID: booking.RenterID,
		Type:   enums.NotificationBookingConfirmed,
		Title:  "Booking confirmed",
		Body: fmt.Sprintf("Deposit of %d VND received. Move-in date: %s.",
			booking.DepositAmount, booking.MoveInDate.Format("2006-01-02")),
		Data: map[string]any{"booking_id": booking.ID.String()},
	})
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := ListBookingsParams{
		RenterID: params.RenterID,
		HostID:   params.HostID,
		UnitID:   params.UnitID,
		Status:   params.Status,
		Limit:    params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list bookings")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) requireHostOwnsUnit(ctx context.Context, tx *gorm.DB, hostID, unitID uuid.UUID) error {
	unit, err := s.units.WithTx(tx).FindByID(ctx, unitID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit")
	}
	if unit == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "unit not found")
	}
	if unit.HostID != hostID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "unit belongs to another host")
	}
	return nil
}
