package fulfillment

import (
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
)

// ApproveAndAssignInput carries the admin approval plus agent assignment.
type ApproveAndAssignInput struct {
	OrderID     uuid.UUID
	AgentID     uuid.UUID
	Notes       *string
	ActorUserID uuid.UUID
}

// AgentActionInput identifies the agent performing a transition on an order.
type AgentActionInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
}

// RejectInput carries the agent's rejection with its mandatory reason.
type RejectInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
	Reason      string
}

// CompletePickupInput carries the order-number verification for pickup.
type CompletePickupInput struct {
	OrderID           uuid.UUID
	AgentUserID       uuid.UUID
	VerificationValue string
	Notes             *string
}

// ReachedBuyerInput marks arrival at the buyer's location.
type ReachedBuyerInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
	Notes       *string
}

// VerifyOtpInput carries the buyer's code as relayed by the agent.
type VerifyOtpInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
	Code        string
}

// CompleteDeliveryInput finishes the handoff.
type CompleteDeliveryInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
	Otp         *string
	Notes       *string
}

// CancelInput cancels an order on behalf of any permitted actor.
type CancelInput struct {
	OrderID     uuid.UUID
	ActorUserID uuid.UUID
	ActorRole   enums.ActorRole
	Reason      string
}

// PaymentInstructions tells the agent how a COD order can be settled at the
// door. Nil for prepaid orders.
type PaymentInstructions struct {
	Methods []enums.CODMethod `json:"methods"`
	Note    string            `json:"note,omitempty"`
}

// ReachedBuyerResult reports what arrival at the buyer triggered.
type ReachedBuyerResult struct {
	OtpIssued           bool                 `json:"otp_issued"`
	PaymentInstructions *PaymentInstructions `json:"payment_instructions,omitempty"`
}

// OrderSummary exposes the fields agents and admins see in order lists.
type OrderSummary struct {
	ID              uuid.UUID             `json:"id"`
	OrderNumber     string                `json:"order_number"`
	LifecycleStatus enums.LifecycleStatus `json:"lifecycle_status"`
	AgentStatus     enums.AgentStatus     `json:"agent_status"`
	PaymentMethod   enums.PaymentMethod   `json:"payment_method"`
	IsPaid          bool                  `json:"is_paid"`
	TotalCents      int                   `json:"total_cents"`
	DeliveryFee     int                   `json:"delivery_fee_cents"`
	CreatedAt       time.Time             `json:"created_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
