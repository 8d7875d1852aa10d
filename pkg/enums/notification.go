package enums

import "fmt"

// NotificationType labels the in-app notification records written by the core services.
type NotificationType string

const (
	NotificationBookingApproved  NotificationType = "booking_approved"
	NotificationBookingRejected  NotificationType = "booking_rejected"
	NotificationBookingConfirmed NotificationType = "booking_confirmed"
	NotificationDisputeOpened    NotificationType = "dispute_opened"
	NotificationDisputeResolved  NotificationType = "dispute_resolved"
)

var validNotificationTypes = []NotificationType{
	NotificationBookingApproved,
	NotificationBookingRejected,
	NotificationBookingConfirmed,
	NotificationDisputeOpened,
	NotificationDisputeResolved,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
