package enums

import "fmt"

// AgentStatus is the canonical delivery-agent sub-state of an order. Every
// component reads and writes this one enum; there is no secondary copy of
// agent truth anywhere else.
type AgentStatus string

const (
	AgentStatusUnassigned        AgentStatus = "unassigned"
	AgentStatusAssigned          AgentStatus = "assigned"
	AgentStatusAccepted          AgentStatus = "accepted"
	AgentStatusRejected          AgentStatus = "rejected"
	AgentStatusPickupCompleted   AgentStatus = "pickup_completed"
	AgentStatusLocationReached   AgentStatus = "location_reached"
	AgentStatusDeliveryCompleted AgentStatus = "delivery_completed"
)

var validAgentStatuses = []AgentStatus{
	AgentStatusUnassigned,
	AgentStatusAssigned,
	AgentStatusAccepted,
	AgentStatusRejected,
	AgentStatusPickupCompleted,
	AgentStatusLocationReached,
	AgentStatusDeliveryCompleted,
}

// agentStatusRank orders the forward progression. Rejection is the only
// backward edge and is handled explicitly by the release transition.
var agentStatusRank = map[AgentStatus]int{
	AgentStatusUnassigned:        0,
	AgentStatusAssigned:          1,
	AgentStatusAccepted:          2,
	AgentStatusPickupCompleted:   3,
	AgentStatusLocationReached:   4,
	AgentStatusDeliveryCompleted: 5,
}

// String implements fmt.Stringer.
func (a AgentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AgentStatus.
func (a AgentStatus) IsValid() bool {
	for _, candidate := range validAgentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsActive reports whether the agent currently holds live work for the order.
// Used by the assignment coordinator's availability check.
func (a AgentStatus) IsActive() bool {
	switch a {
	case AgentStatusAssigned, AgentStatusAccepted, AgentStatusPickupCompleted, AgentStatusLocationReached:
		return true
	default:
		return false
	}
}

// CanAdvanceTo reports whether moving to next respects the monotonic
// progression. Rejection never goes through here.
func (a AgentStatus) CanAdvanceTo(next AgentStatus) bool {
	from, ok := agentStatusRank[a]
	if !ok {
		return false
	}
	to, ok := agentStatusRank[next]
	if !ok {
		return false
	}
	return to == from+1
}

// ParseAgentStatus converts raw input into an AgentStatus.
func ParseAgentStatus(value string) (AgentStatus, error) {
	for _, candidate := range validAgentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent status %q", value)
}
