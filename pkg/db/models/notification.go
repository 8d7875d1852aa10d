package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/loc-ne/roomstay-backend/pkg/enums"
)

// Notification is an in-app record written alongside booking and dispute
// transitions. Delivery (email, push) is a downstream concern.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Type      enums.NotificationType `gorm:"column:type;type:text;not null" json:"type"`
	Title     string                 `gorm:"column:title;not null" json:"title"`
	Body      string                 `gorm:"column:body" json:"body"`
	Data      map[string]any         `gorm:"column:data;type:jsonb;serializer:json" json:"data,omitempty"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
