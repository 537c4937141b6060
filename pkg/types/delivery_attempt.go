package types

import "time"

// DeliveryAttempt records one handoff attempt at the buyer's location,
// successful or not.
type DeliveryAttempt struct {
	AttemptNumber int       `json:"attemptNumber"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// DeliveryAttempts is stored as a jsonb column on the order row.
type DeliveryAttempts []DeliveryAttempt

// Next returns the attempt number the next entry should carry.
func (d DeliveryAttempts) Next() int {
	return len(d) + 1
}
