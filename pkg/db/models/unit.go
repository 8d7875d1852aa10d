package models

import (
	"time"

	"github.com/google/uuid"
)

// Unit is the rentable listing row owned by the listing subsystem. The booking
// core only reads it: price/deposit snapshots and host ownership checks.
type Unit struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	HostID    uuid.UUID `gorm:"column:host_id;type:uuid;not null" json:"host_id"`
	Title     string    `gorm:"column:title;not null" json:"title"`
	Price     int64     `gorm:"column:price;not null" json:"price"`
	Deposit   int64     `gorm:"column:deposit;not null" json:"deposit"`
	Active    bool      `gorm:"column:active;not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
