package enums

import "fmt"

// EventTopic names the real-time channels clients subscribe to. One topic per
// transition the UIs care about; spellings are part of the client contract.
type EventTopic string

const (
	EventTopicAssignment      EventTopic = "assignment"
	EventTopicStatusUpdate    EventTopic = "order-status-update"
	EventTopicPaymentComplete EventTopic = "payment-completed"
	EventTopicAgentReached    EventTopic = "delivery-agent-reached"
	EventTopicOrderDelivered  EventTopic = "order-delivered"
	EventTopicOrderAccepted   EventTopic = "order-accepted-by-agent"
	EventTopicPickupCompleted EventTopic = "order-pickup-completed"
)

var validEventTopics = []EventTopic{
	EventTopicAssignment,
	EventTopicStatusUpdate,
	EventTopicPaymentComplete,
	EventTopicAgentReached,
	EventTopicOrderDelivered,
	EventTopicOrderAccepted,
	EventTopicPickupCompleted,
}

// String implements fmt.Stringer.
func (e EventTopic) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EventTopic.
func (e EventTopic) IsValid() bool {
	for _, candidate := range validEventTopics {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventTopic converts raw input into an EventTopic.
func ParseEventTopic(value string) (EventTopic, error) {
	for _, candidate := range validEventTopics {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event topic %q", value)
}
