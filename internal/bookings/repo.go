package bookings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loc-ne/roomstay-backend/pkg/db/models"
	"github.com/loc-ne/roomstay-backend/pkg/enums"
	"github.com/loc-ne/roomstay-backend/pkg/pagination"
)

// Repository exposes persistence helpers for bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) error
	UpdateStatusWithReject(ctx context.Context, id uuid.UUID, status enums.BookingStatus, reason string) error
	UpdateStatusWithCancel(ctx context.Context, id uuid.UUID, status enums.BookingStatus, reason string) error
	BulkRejectPending(ctx context.Context, unitID, exceptID uuid.UUID, reason string) ([]models.Booking, error)
	List(ctx context.Context, params ListBookingsParams) ([]models.Booking, *pagination.Cursor, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a bookings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

// ListBookingsParams filters the booking listing query.
type ListBookingsParams struct {
	RenterID *uuid.UUID
	HostID   *uuid.UUID
	UnitID   *uuid.UUID
	Status   *enums.BookingStatus
	Limit    int
	Cursor   *pagination.Cursor
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).First(&booking, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

// FindByIDForUpdate takes a row lock so concurrent approvals on the same unit
// serialize. Must run inside a transaction.
func (r *repositoryImpl) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&booking, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.BookingStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *repositoryImpl) UpdateStatusWithReject(ctx context.Context, id uuid.UUID, status enums.BookingStatus, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "reject_reason": reason}).Error
}

func (r *repositoryImpl) UpdateStatusWithCancel(ctx context.Context, id uuid.UUID, status enums.BookingStatus, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "cancel_reason": reason}).Error
}

// BulkRejectPending transitions every other PENDING booking on the unit to
// REJECTED and returns the affected rows so callers can notify their renters.
func (r *repositoryImpl) BulkRejectPending(ctx context.Context, unitID, exceptID uuid.UUID, reason string) ([]models.Booking, error) {
	var siblings []models.Booking
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("unit_id = ? AND id <> ? AND status = ?", unitID, exceptID, enums.BookingStatusPending).
		Find(&siblings).Error
	if err != nil {
		return nil, err
	}
	if len(siblings) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(siblings))
	for _, sibling := range siblings {
		ids = append(ids, sibling.ID)
	}
	err = r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": enums.BookingStatusRejected, "reject_reason": reason}).Error
	if err != nil {
		return nil, err
	}
	return siblings, nil
}

func (r *repositoryImpl) List(ctx context.Context, params ListBookingsParams) ([]models.Booking, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Booking{})

	if params.RenterID != nil {
		query = query.Where("renter_id = ?", *params.RenterID)
	}
	if params.HostID != nil {
		query = query.Where("unit_id IN (?)", r.db.Model(&models.Unit{}).Select("id").Where("host_id = ?", *params.HostID))
	}
	if params.UnitID != nil {
		query = query.Where("unit_id = ?", *params.UnitID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Booking
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > normalized {
		next := rows[normalized]
		rows = rows[:normalized]
		return rows, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return rows, nil, nil
}
