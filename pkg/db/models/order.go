package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/types"
)

// Order is the fulfillment aggregate. Every sub-state of the delivery flow
// (approval, assignment, pickup, delivery, OTP, COD) lives on the same row so
// a single guarded UPDATE can arbitrate concurrent transitions.
type Order struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber      string                `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerUserID      uuid.UUID             `gorm:"column:buyer_user_id;type:uuid;not null"`
	BuyerPhone       string                `gorm:"column:buyer_phone;not null"`
	SellerStoreID    uuid.UUID             `gorm:"column:seller_store_id;type:uuid;not null"`
	PaymentMethod    enums.PaymentMethod   `gorm:"column:payment_method;type:text;not null"`
	IsPaid           bool                  `gorm:"column:is_paid;not null;default:false"`
	DeliveryFeeCents int                   `gorm:"column:delivery_fee_cents;not null;default:0"`
	TotalCents       int                   `gorm:"column:total_cents;not null"`
	LifecycleStatus  enums.LifecycleStatus `gorm:"column:lifecycle_status;type:text;not null;default:'Pending'"`

	// Admin approval.
	ApprovalStatus       enums.ApprovalStatus `gorm:"column:approval_status;type:text;not null;default:'pending'"`
	ApprovedBy           *uuid.UUID           `gorm:"column:approved_by;type:uuid"`
	ApprovedAt           *time.Time           `gorm:"column:approved_at"`
	AutoApprovalDeadline *time.Time           `gorm:"column:auto_approval_deadline"`

	// Delivery agent assignment.
	AgentUserID     *uuid.UUID        `gorm:"column:agent_user_id;type:uuid"`
	AssignedAt      *time.Time        `gorm:"column:assigned_at"`
	AssignedBy      *uuid.UUID        `gorm:"column:assigned_by;type:uuid"`
	AgentStatus     enums.AgentStatus `gorm:"column:agent_status;type:text;not null;default:'unassigned'"`
	AcceptedAt      *time.Time        `gorm:"column:accepted_at"`
	RejectedAt      *time.Time        `gorm:"column:rejected_at"`
	RejectionReason *string           `gorm:"column:rejection_reason"`

	// Pickup verification.
	SellerLocationReachedAt  *time.Time `gorm:"column:seller_location_reached_at"`
	PickupCompleted          bool       `gorm:"column:pickup_completed;not null;default:false"`
	PickupCompletedAt        *time.Time `gorm:"column:pickup_completed_at"`
	PickupVerificationMethod *string    `gorm:"column:pickup_verification_method"`
	PickupNotes              *string    `gorm:"column:pickup_notes"`

	// Delivery.
	BuyerLocationReachedAt *time.Time             `gorm:"column:buyer_location_reached_at"`
	DeliveryCompleted      bool                   `gorm:"column:delivery_completed;not null;default:false"`
	DeliveryCompletedAt    *time.Time             `gorm:"column:delivery_completed_at"`
	DeliveryNotes          *string                `gorm:"column:delivery_notes"`
	DeliveryAttempts       types.DeliveryAttempts `gorm:"column:delivery_attempts;type:jsonb;serializer:json"`

	// OTP handoff gate. The code itself is never persisted here.
	OtpRequired   bool       `gorm:"column:otp_required;not null;default:false"`
	OtpVerified   bool       `gorm:"column:otp_verified;not null;default:false"`
	OtpVerifiedAt *time.Time `gorm:"column:otp_verified_at"`

	// Cash-on-delivery reconciliation.
	CodCollected     bool             `gorm:"column:cod_collected;not null;default:false"`
	CodCollectedAt   *time.Time       `gorm:"column:cod_collected_at"`
	CodMethod        *enums.CODMethod `gorm:"column:cod_method;type:text"`
	CodTransactionID *string          `gorm:"column:cod_transaction_id"`
	CodChargeID      *string          `gorm:"column:cod_charge_id"`

	AgentEarningCents  *int       `gorm:"column:agent_earning_cents"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
	CancellationReason *string    `gorm:"column:cancellation_reason"`

	Items     []OrderLineItem      `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	History   []OrderStatusHistory `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// IsCancelled reports whether the order reached the terminal cancelled state.
func (o *Order) IsCancelled() bool {
	return o.LifecycleStatus == enums.LifecycleStatusCancelled
}

// IsApproved reports whether admin or the auto-approval sweep approved the order.
func (o *Order) IsApproved() bool {
	return o.ApprovalStatus.IsApproved()
}
