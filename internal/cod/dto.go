package cod

import "github.com/google/uuid"

// CashCollectInput records a cash handoff at the buyer's door.
type CashCollectInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
	Notes       *string
}

// QRStartInput kicks off a gateway QR charge for a COD order.
type QRStartInput struct {
	OrderID     uuid.UUID
	AgentUserID uuid.UUID
}

// QRPaymentResult carries what the agent needs to show the buyer.
type QRPaymentResult struct {
	ChargeID   string `json:"charge_id"`
	PaymentURL string `json:"payment_url"`
}
