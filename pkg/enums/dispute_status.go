package enums

import "fmt"

// DisputeStatus tracks the adjudication state of a deposit dispute.
type DisputeStatus string

const (
	DisputeStatusPendingReview  DisputeStatus = "pending_review"
	DisputeStatusResolvedRefund DisputeStatus = "resolved_refund"
	DisputeStatusResolvedDenied DisputeStatus = "resolved_denied"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusPendingReview,
	DisputeStatusResolvedRefund,
	DisputeStatusResolvedDenied,
}

// String implements fmt.Stringer.
func (d DisputeStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeStatus.
func (d DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsResolved reports whether the dispute reached a terminal decision.
func (d DisputeStatus) IsResolved() bool {
	return d == DisputeStatusResolvedRefund || d == DisputeStatusResolvedDenied
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}
