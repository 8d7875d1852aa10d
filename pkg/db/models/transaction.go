package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/pkg/enums"
)

// Transaction is one payment attempt or settlement record tied to a booking.
// GatewayOrderRef is the merchant-generated idempotency key correlating a
// payment attempt across the gateway's return-redirect and webhook channels.
type Transaction struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	BookingID            uuid.UUID               `gorm:"column:booking_id;type:uuid;not null" json:"booking_id"`
	UserID               uuid.UUID               `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Amount               int64                   `gorm:"column:amount;not null" json:"amount"`
	PaymentMethod        string                  `gorm:"column:payment_method;not null;default:'vnpay'" json:"payment_method"`
	Status               enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'pending'" json:"status"`
	Type                 enums.TransactionType   `gorm:"column:type;type:text;not null;default:'deposit'" json:"type"`
	GatewayOrderRef      string                  `gorm:"column:gateway_order_ref;uniqueIndex;not null" json:"gateway_order_ref"`
	GatewayTransactionNo *string                 `gorm:"column:gateway_transaction_no" json:"gateway_transaction_no,omitempty"`
	Description          string                  `gorm:"column:description" json:"description"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
