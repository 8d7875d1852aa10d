package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/pkg/enums"
)

// Dispute is the single optional post-confirmation claim on a booking.
// BookingID carries a unique index so at most one dispute can exist per booking.
type Dispute struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BookingID         uuid.UUID           `gorm:"column:booking_id;type:uuid;uniqueIndex;not null" json:"booking_id"`
	RenterID          uuid.UUID           `gorm:"column:renter_id;type:uuid;not null" json:"renter_id"`
	Reason            string              `gorm:"column:reason;not null" json:"reason"`
	EvidenceImages    []string            `gorm:"column:evidence_images;type:jsonb;serializer:json" json:"evidence_images"`
	AdminDecisionNote *string             `gorm:"column:admin_decision_note" json:"admin_decision_note,omitempty"`
	RefundAmount      int64               `gorm:"column:refund_amount;not null;default:0" json:"refund_amount"`
	Status            enums.DisputeStatus `gorm:"column:status;type:text;not null;default:'pending_review'" json:"status"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
