package enums

import "fmt"

// BookingStatus tracks the lifecycle of a rental booking.
type BookingStatus string

const (
	BookingStatusPending           BookingStatus = "pending"
	BookingStatusApproved          BookingStatus = "approved"
	BookingStatusRejected          BookingStatus = "rejected"
	BookingStatusConfirmed         BookingStatus = "confirmed"
	BookingStatusCancelledByRenter BookingStatus = "cancelled_by_renter"
	BookingStatusCancelledByHost   BookingStatus = "cancelled_by_host"
)

var validBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusApproved,
	BookingStatusRejected,
	BookingStatusConfirmed,
	BookingStatusCancelledByRenter,
	BookingStatusCancelledByHost,
}

// String implements fmt.Stringer.
func (b BookingStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BookingStatus.
func (b BookingStatus) IsValid() bool {
	for _, candidate := range validBookingStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}

// IsCancellableByRenter reports whether a renter may still withdraw the booking.
func (b BookingStatus) IsCancellableByRenter() bool {
	return b == BookingStatusPending || b == BookingStatusApproved
}

// ParseBookingStatus converts raw input into a BookingStatus.
func ParseBookingStatus(value string) (BookingStatus, error) {
	for _, candidate := range validBookingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid booking status %q", value)
}
