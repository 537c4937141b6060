package enums

import "fmt"

// LifecycleStatus tracks the coarse order-level state of a marketplace order.
// The spellings are persisted and consumed by existing clients; do not rename.
type LifecycleStatus string

const (
	LifecycleStatusPending        LifecycleStatus = "Pending"
	LifecycleStatusProcessing     LifecycleStatus = "Processing"
	LifecycleStatusPickupReady    LifecycleStatus = "Pickup_Ready"
	LifecycleStatusOutForDelivery LifecycleStatus = "Out_for_Delivery"
	LifecycleStatusDelivered      LifecycleStatus = "Delivered"
	LifecycleStatusCancelled      LifecycleStatus = "Cancelled"
)

var validLifecycleStatuses = []LifecycleStatus{
	LifecycleStatusPending,
	LifecycleStatusProcessing,
	LifecycleStatusPickupReady,
	LifecycleStatusOutForDelivery,
	LifecycleStatusDelivered,
	LifecycleStatusCancelled,
}

// String implements fmt.Stringer.
func (l LifecycleStatus) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LifecycleStatus.
func (l LifecycleStatus) IsValid() bool {
	for _, candidate := range validLifecycleStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order can never transition again.
func (l LifecycleStatus) IsTerminal() bool {
	return l == LifecycleStatusDelivered || l == LifecycleStatusCancelled
}

// ParseLifecycleStatus converts raw input into a LifecycleStatus.
func ParseLifecycleStatus(value string) (LifecycleStatus, error) {
	for _, candidate := range validLifecycleStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lifecycle status %q", value)
}
