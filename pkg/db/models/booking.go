package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/pkg/enums"
)

// Booking represents one rental request for a unit. Price and deposit are
// snapshotted from the unit at creation and never recomputed.
type Booking struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RenterID      uuid.UUID           `gorm:"column:renter_id;type:uuid;not null" json:"renter_id"`
	UnitID        uuid.UUID           `gorm:"column:unit_id;type:uuid;not null" json:"unit_id"`
	MoveInDate    time.Time           `gorm:"column:move_in_date;not null" json:"move_in_date"`
	DepositAmount int64               `gorm:"column:deposit_amount;not null" json:"deposit_amount"`
	TotalPrice    int64               `gorm:"column:total_price;not null" json:"total_price"`
	Status        enums.BookingStatus `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	RejectReason  *string             `gorm:"column:reject_reason" json:"reject_reason,omitempty"`
	CancelReason  *string             `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
