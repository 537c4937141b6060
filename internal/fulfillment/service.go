package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/UDDITwork/ZAMMER-sub011/internal/events"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/db/models"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/pagination"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

type otpManager interface {
	Issue(ctx context.Context, orderID uuid.UUID, phone string) error
	Verify(ctx context.Context, orderID uuid.UUID, code string) error
}

// Service drives every order fulfillment transition. All writes are guarded
// optimistic updates: the precondition travels in the WHERE clause and a
// zero-row result means another actor won the race.
type Service interface {
	ApproveAndAssign(ctx context.Context, input ApproveAndAssignInput) error
	AutoApproveExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Accept(ctx context.Context, input AgentActionInput) error
	Reject(ctx context.Context, input RejectInput) error
	MarkSellerLocationReached(ctx context.Context, input AgentActionInput) error
	CompletePickup(ctx context.Context, input CompletePickupInput) error
	MarkBuyerLocationReached(ctx context.Context, input ReachedBuyerInput) (*ReachedBuyerResult, error)
	SendOtp(ctx context.Context, input AgentActionInput) error
	VerifyOtp(ctx context.Context, input VerifyOtpInput) error
	CompleteDelivery(ctx context.Context, input CompleteDeliveryInput) error
	Cancel(ctx context.Context, input CancelInput) error
	ListAvailable(ctx context.Context, params pagination.Params) (*OrderList, error)
	ListAssigned(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*OrderList, error)
	FindDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	events eventPublisher
	otp    otpManager
	cfg    config.FulfillmentConfig
	now    func() time.Time
}

// NewService builds the fulfillment service with its collaborators.
func NewService(repo Repository, tx txRunner, publisher eventPublisher, otp otpManager, cfg config.FulfillmentConfig) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if otp == nil {
		return nil, fmt.Errorf("otp manager required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		events: publisher,
		otp:    otp,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) ApproveAndAssign(ctx context.Context, input ApproveAndAssignInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.AgentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery agent id required")
	}
	if input.ActorUserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var assigned *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.AgentStatus != enums.AgentStatusUnassigned {
			return stateConflict("already_assigned", "order already has an active agent")
		}
		// Auto-approved orders stay assignable; anything else already decided
		// is a conflict.
		switch order.ApprovalStatus {
		case enums.ApprovalStatusPending, enums.ApprovalStatusAutoApproved:
		default:
			return stateConflict("already_approved", "order approval already decided")
		}

		active, err := repo.CountActiveForAgent(ctx, input.AgentID, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check agent availability")
		}
		if active > 0 {
			return stateConflict("agent_unavailable", "agent already carries an active order")
		}

		now := s.now()
		updates := map[string]any{
			"agent_user_id":    input.AgentID,
			"assigned_at":      now,
			"assigned_by":      input.ActorUserID,
			"agent_status":     enums.AgentStatusAssigned,
			"lifecycle_status": enums.LifecycleStatusPickupReady,
		}
		if order.ApprovalStatus == enums.ApprovalStatusPending {
			updates["approval_status"] = enums.ApprovalStatusApproved
			updates["approved_by"] = input.ActorUserID
			updates["approved_at"] = now
		}
		conditions := map[string]any{
			"agent_status":    enums.AgentStatusUnassigned,
			"approval_status": order.ApprovalStatus,
		}
		rows, err := repo.UpdateWhere(ctx, order.ID, conditions, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign order")
		}
		if rows == 0 {
			return s.replayConflict(ctx, repo, order.ID, "already_assigned")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       order.ID,
			Status:        "assigned",
			ChangedByRole: enums.ActorRoleAdmin,
			ChangedByID:   &input.ActorUserID,
			Notes:         input.Notes,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record assignment")
		}

		assigned = order
		return nil
	})
	if err != nil {
		return err
	}

	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicAssignment,
		OrderID:     assigned.ID,
		OrderNumber: assigned.OrderNumber,
		Audience:    []events.Audience{events.ForAgent(input.AgentID), events.ForAdmins()},
	})
	s.publishStatusUpdate(ctx, assigned, "assigned")
	return nil
}

// AutoApproveExpired sweeps orders whose approval window lapsed and approves
// them without assigning an agent. Assignment still happens through
// ApproveAndAssign later.
func (s *service) AutoApproveExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	expired, err := s.repo.FindApprovalExpired(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired approvals")
	}

	approved := make([]uuid.UUID, 0, len(expired))
	var errs []error
	for _, order := range expired {
		order := order
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			rows, err := repo.UpdateWhere(ctx, order.ID,
				map[string]any{
					"approval_status":  enums.ApprovalStatusPending,
					"lifecycle_status": enums.LifecycleStatusPending,
				},
				map[string]any{
					"approval_status":  enums.ApprovalStatusAutoApproved,
					"approved_at":      now,
					"lifecycle_status": enums.LifecycleStatusProcessing,
				})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "auto approve order")
			}
			if rows == 0 {
				// Another sweep or an admin got there first.
				return nil
			}
			if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
				OrderID:       order.ID,
				Status:        "auto_approved",
				ChangedByRole: enums.ActorRoleSystem,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record auto approval")
			}
			approved = append(approved, order.ID)
			return nil
		})
		if err != nil {
			// One stuck order must not starve the rest of the batch.
			errs = append(errs, fmt.Errorf("auto approve %s: %w", order.ID, err))
		}
	}
	return approved, multierr.Combine(errs...)
}

func (s *service) Accept(ctx context.Context, input AgentActionInput) error {
	var accepted *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadForAgent(ctx, repo, input.OrderID, input.AgentUserID)
		if err != nil {
			return err
		}
		if order.AgentStatus == enums.AgentStatusAccepted {
			// Idempotent replay.
			return nil
		}
		if order.AgentStatus != enums.AgentStatusAssigned {
			return stateConflict("not_assigned", "order is not awaiting an agent response")
		}

		now := s.now()
		rows, err := repo.UpdateWhere(ctx, order.ID,
			map[string]any{"agent_status": enums.AgentStatusAssigned, "agent_user_id": input.AgentUserID},
			map[string]any{
				"agent_status": enums.AgentStatusAccepted,
				"accepted_at":  now,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept order")
		}
		if rows == 0 {
			return s.replayConflict(ctx, repo, order.ID, "not_assigned")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       order.ID,
			Status:        "accepted",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record acceptance")
		}
		accepted = order
		return nil
	})
	if err != nil || accepted == nil {
		return err
	}

	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicOrderAccepted,
		OrderID:     accepted.ID,
		OrderNumber: accepted.OrderNumber,
		Audience: []events.Audience{
			events.ForSeller(accepted.SellerStoreID),
			events.ForAdmins(),
		},
	})
	s.publishStatusUpdate(ctx, accepted, "accepted")
	return nil
}

func (s *service) Reject(ctx context.Context, input RejectInput) error {
	if input.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}
	if input.AgentUserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}

	var rejected *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		// Load without the agent guard: a completed reject clears
		// agent_user_id, so the replay check has to run first.
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.AgentStatus == enums.AgentStatusUnassigned && order.RejectedAt != nil {
			// Idempotent replay of the same rejection.
			return nil
		}
		if order.AgentUserID == nil || *order.AgentUserID != input.AgentUserID {
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "order is not assigned to this agent")
		}
		if order.AgentStatus != enums.AgentStatusAssigned {
			return stateConflict("not_assigned", "order is not awaiting an agent response")
		}

		now := s.now()
		// Rejection releases the order back to the pool so another agent can
		// be assigned.
		rows, err := repo.UpdateWhere(ctx, order.ID,
			map[string]any{"agent_status": enums.AgentStatusAssigned, "agent_user_id": input.AgentUserID},
			map[string]any{
				"agent_status":     enums.AgentStatusUnassigned,
				"agent_user_id":    nil,
				"assigned_at":      nil,
				"assigned_by":      nil,
				"rejected_at":      now,
				"rejection_reason": input.Reason,
				"lifecycle_status": enums.LifecycleStatusProcessing,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject order")
		}
		if rows == 0 {
			current, ferr := repo.Find(ctx, order.ID)
			if ferr == nil && current.AgentStatus == enums.AgentStatusUnassigned && current.RejectedAt != nil {
				// A concurrent duplicate already released the order.
				return nil
			}
			return s.replayConflict(ctx, repo, order.ID, "not_assigned")
		}

		reason := input.Reason
		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       order.ID,
			Status:        "rejected",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
			Notes:         &reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record rejection")
		}
		rejected = order
		return nil
	})
	if err != nil || rejected == nil {
		return err
	}

	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicStatusUpdate,
		OrderID:     rejected.ID,
		OrderNumber: rejected.OrderNumber,
		Data:        map[string]any{"status": "rejected", "reason": input.Reason},
		Audience:    []events.Audience{events.ForAdmins()},
	})
	return nil
}

func (s *service) MarkSellerLocationReached(ctx context.Context, input AgentActionInput) error {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadForAgent(ctx, repo, input.OrderID, input.AgentUserID)
		if err != nil {
			return err
		}
		if loaded.SellerLocationReachedAt != nil {
			return nil
		}
		if loaded.AgentStatus != enums.AgentStatusAccepted {
			return stateConflict("not_accepted", "order must be accepted before pickup travel")
		}

		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"agent_status": enums.AgentStatusAccepted, "agent_user_id": input.AgentUserID},
			map[string]any{"seller_location_reached_at": s.now()})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark seller location")
		}
		if rows == 0 {
			return s.replayConflict(ctx, repo, loaded.ID, "not_accepted")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "reached_seller_location",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record seller arrival")
		}
		order = loaded
		return nil
	})
	if err != nil || order == nil {
		return err
	}

	s.publishStatusUpdate(ctx, order, "reached_seller_location")
	return nil
}

func (s *service) CompletePickup(ctx context.Context, input CompletePickupInput) error {
	if input.VerificationValue == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order number verification required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadForAgent(ctx, repo, input.OrderID, input.AgentUserID)
		if err != nil {
			return err
		}
		if loaded.PickupCompleted {
			return nil
		}
		if loaded.AgentStatus != enums.AgentStatusAccepted {
			return stateConflict("not_accepted", "pickup requires an accepted assignment")
		}
		if loaded.SellerLocationReachedAt == nil {
			return stateConflict("seller_not_reached", "agent has not reached the seller location")
		}

		// The match is case sensitive by design of the order number format.
		if input.VerificationValue != loaded.OrderNumber {
			attempt := fmt.Sprintf("pickup verification failed: presented %q", input.VerificationValue)
			if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
				OrderID:       loaded.ID,
				Status:        "pickup_verification_failed",
				ChangedByRole: enums.ActorRoleAgent,
				ChangedByID:   &input.AgentUserID,
				Notes:         &attempt,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failed verification")
			}
			return pkgerrors.New(pkgerrors.CodeOrderIDMismatch, "order number does not match").
				WithDetails(map[string]any{"expected_format": "ORD-YYYYMMDD-NNN"})
		}

		now := s.now()
		method := "order_number_match"
		updates := map[string]any{
			"agent_status":               enums.AgentStatusPickupCompleted,
			"pickup_completed":           true,
			"pickup_completed_at":        now,
			"pickup_verification_method": method,
			"lifecycle_status":           enums.LifecycleStatusOutForDelivery,
		}
		if input.Notes != nil {
			updates["pickup_notes"] = *input.Notes
		}
		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"agent_status": enums.AgentStatusAccepted, "agent_user_id": input.AgentUserID},
			updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete pickup")
		}
		if rows == 0 {
			return s.replayConflict(ctx, repo, loaded.ID, "not_accepted")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "pickup_completed",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
			Notes:         input.Notes,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pickup")
		}
		order = loaded
		return nil
	})
	if err != nil || order == nil {
		return err
	}

	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicPickupCompleted,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Audience: []events.Audience{
			events.ForBuyer(order.BuyerUserID),
			events.ForSeller(order.SellerStoreID),
			events.ForAdmins(),
		},
	})
	s.publishStatusUpdate(ctx, order, "pickup_completed")
	return nil
}

func (s *service) MarkBuyerLocationReached(ctx context.Context, input ReachedBuyerInput) (*ReachedBuyerResult, error) {
	var order *models.Order
	var replay bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadForAgent(ctx, repo, input.OrderID, input.AgentUserID)
		if err != nil {
			return err
		}
		if loaded.BuyerLocationReachedAt != nil {
			order = loaded
			replay = true
			return nil
		}
		if loaded.AgentStatus != enums.AgentStatusPickupCompleted {
			return stateConflict("pickup_incomplete", "pickup must complete before buyer arrival")
		}

		otpRequired := loaded.PaymentMethod == enums.PaymentMethodPrepaidGateway
		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"agent_status": enums.AgentStatusPickupCompleted, "agent_user_id": input.AgentUserID},
			map[string]any{
				"agent_status":              enums.AgentStatusLocationReached,
				"buyer_location_reached_at": s.now(),
				"otp_required":              otpRequired,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark buyer location")
		}
		if rows == 0 {
			return s.replayConflict(ctx, repo, loaded.ID, "pickup_incomplete")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "reached_buyer_location",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
			Notes:         input.Notes,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record buyer arrival")
		}
		loaded.OtpRequired = otpRequired
		order = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return s.reachedResult(order), nil
	}

	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicAgentReached,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Audience: []events.Audience{
			events.ForBuyer(order.BuyerUserID),
			events.ForAdmins(),
		},
	})

	result := s.reachedResult(order)
	if order.PaymentMethod == enums.PaymentMethodPrepaidGateway {
		// Prepaid orders go straight to the OTP gate.
		if err := s.issueOtp(ctx, order); err != nil {
			return nil, err
		}
		result.OtpIssued = true
	}
	return result, nil
}

func (s *service) reachedResult(order *models.Order) *ReachedBuyerResult {
	if order.PaymentMethod == enums.PaymentMethodCashOnDelivery && !order.CodCollected {
		return &ReachedBuyerResult{
			PaymentInstructions: &PaymentInstructions{
				Methods: []enums.CODMethod{enums.CODMethodCash, enums.CODMethodQR},
				Note:    "collect payment before requesting the delivery code",
			},
		}
	}
	return &ReachedBuyerResult{OtpIssued: order.OtpRequired}
}

// SendOtp issues (or re-issues) the delivery code once the agent is at the
// buyer's door and payment is settled.
func (s *service) SendOtp(ctx context.Context, input AgentActionInput) error {
	order, err := s.loadForAgentNoTx(ctx, input.OrderID, input.AgentUserID)
	if err != nil {
		return err
	}
	if order.BuyerLocationReachedAt == nil {
		return stateConflict("not_at_buyer", "agent has not reached the buyer location")
	}
	if !order.IsPaid && !order.CodCollected {
		return stateConflict("payment_pending", "collect payment before sending the delivery code")
	}
	return s.issueOtp(ctx, order)
}

func (s *service) issueOtp(ctx context.Context, order *models.Order) error {
	if err := s.otp.Issue(ctx, order.ID, order.BuyerPhone); err != nil {
		return err
	}
	if _, err := s.repo.UpdateWhere(ctx, order.ID, nil, map[string]any{"otp_required": true}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag otp requirement")
	}
	return s.repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:       order.ID,
		Status:        "otp_sent",
		ChangedByRole: enums.ActorRoleSystem,
	})
}

func (s *service) VerifyOtp(ctx context.Context, input VerifyOtpInput) error {
	order, err := s.loadForAgentNoTx(ctx, input.OrderID, input.AgentUserID)
	if err != nil {
		return err
	}
	if order.OtpVerified {
		return nil
	}
	if !order.OtpRequired {
		return stateConflict("otp_not_required", "no delivery code pending for this order")
	}

	if err := s.otp.Verify(ctx, order.ID, input.Code); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInvalidOtp) {
			attempt := "otp verification failed"
			_ = s.repo.AppendHistory(ctx, &models.OrderStatusHistory{
				OrderID:       order.ID,
				Status:        "otp_verification_failed",
				ChangedByRole: enums.ActorRoleAgent,
				ChangedByID:   &input.AgentUserID,
				Notes:         &attempt,
			})
		}
		return err
	}

	rows, err := s.repo.UpdateWhere(ctx, order.ID,
		map[string]any{"otp_verified": false},
		map[string]any{"otp_verified": true, "otp_verified_at": s.now()})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark otp verified")
	}
	if rows == 0 {
		return nil
	}
	return s.repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:       order.ID,
		Status:        "otp_verified",
		ChangedByRole: enums.ActorRoleAgent,
		ChangedByID:   &input.AgentUserID,
	})
}

func (s *service) CompleteDelivery(ctx context.Context, input CompleteDeliveryInput) error {
	// An inline OTP makes deliver a one-shot call for clients that skip the
	// separate verify round trip.
	if input.Otp != nil && *input.Otp != "" {
		if err := s.VerifyOtp(ctx, VerifyOtpInput{
			OrderID:     input.OrderID,
			AgentUserID: input.AgentUserID,
			Code:        *input.Otp,
		}); err != nil {
			return err
		}
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadForAgent(ctx, repo, input.OrderID, input.AgentUserID)
		if err != nil {
			return err
		}
		if loaded.DeliveryCompleted {
			return nil
		}
		if loaded.AgentStatus != enums.AgentStatusLocationReached {
			return stateConflict("not_at_buyer", "agent has not reached the buyer location")
		}
		if !loaded.IsPaid && !loaded.CodCollected {
			return stateConflict("payment_pending", "payment must settle before handoff")
		}
		if loaded.OtpRequired && !loaded.OtpVerified {
			return stateConflict("otp_pending", "delivery code has not been verified")
		}

		now := s.now()
		earning := s.agentEarningCents(loaded.DeliveryFeeCents)
		attempts := append(loaded.DeliveryAttempts, types.DeliveryAttempt{
			AttemptNumber: loaded.DeliveryAttempts.Next(),
			Status:        "delivered",
			Notes:         derefString(input.Notes),
			Timestamp:     now,
		})

		updates := map[string]any{
			"agent_status":          enums.AgentStatusDeliveryCompleted,
			"delivery_completed":    true,
			"delivery_completed_at": now,
			"delivery_attempts":     attempts,
			"agent_earning_cents":   earning,
			"lifecycle_status":      enums.LifecycleStatusDelivered,
		}
		if input.Notes != nil {
			updates["delivery_notes"] = *input.Notes
		}
		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"agent_status": enums.AgentStatusLocationReached, "agent_user_id": input.AgentUserID},
			updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete delivery")
		}
		if rows == 0 {
			return s.replayConflict(ctx, repo, loaded.ID, "not_at_buyer")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "delivery_completed",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
			Notes:         input.Notes,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery")
		}
		order = loaded
		return nil
	})
	if err != nil || order == nil {
		return err
	}

	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicOrderDelivered,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Audience: []events.Audience{
			events.ForBuyer(order.BuyerUserID),
			events.ForSeller(order.SellerStoreID),
			events.ForAgent(input.AgentUserID),
			events.ForAdmins(),
		},
	})
	s.publishStatusUpdate(ctx, order, "delivery_completed")
	return nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) error {
	if input.Reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "cancellation reason required")
	}
	if !input.ActorRole.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "actor role required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.Find(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if loaded.IsCancelled() {
			// Second cancel is a no-op.
			return nil
		}
		if loaded.LifecycleStatus == enums.LifecycleStatusDelivered {
			return stateConflict("delivered", "a delivered order cannot be cancelled")
		}

		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"lifecycle_status": loaded.LifecycleStatus},
			map[string]any{
				"lifecycle_status":    enums.LifecycleStatusCancelled,
				"cancelled_at":        s.now(),
				"cancellation_reason": input.Reason,
				"agent_status":        enums.AgentStatusUnassigned,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if rows == 0 {
			// The state moved underneath us. Losing the race to another
			// cancel is the outcome the caller wanted; anything else means
			// the order progressed and the caller retries.
			current, ferr := repo.Find(ctx, loaded.ID)
			if ferr == nil && current.IsCancelled() {
				return nil
			}
			return stateConflict("state_changed", "order state changed concurrently")
		}

		reason := input.Reason
		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "cancelled",
			ChangedByRole: input.ActorRole,
			ChangedByID:   &input.ActorUserID,
			Notes:         &reason,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cancellation")
		}
		order = loaded
		return nil
	})
	if err != nil || order == nil {
		return err
	}

	audience := []events.Audience{
		events.ForBuyer(order.BuyerUserID),
		events.ForSeller(order.SellerStoreID),
		events.ForAdmins(),
	}
	if order.AgentUserID != nil {
		audience = append(audience, events.ForAgent(*order.AgentUserID))
	}
	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicStatusUpdate,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Data:        map[string]any{"status": "cancelled", "reason": input.Reason},
		Audience:    audience,
	})
	return nil
}

func (s *service) ListAvailable(ctx context.Context, params pagination.Params) (*OrderList, error) {
	list, err := s.repo.ListAvailable(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list available orders")
	}
	return list, nil
}

func (s *service) ListAssigned(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}
	list, err := s.repo.ListAssigned(ctx, agentID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assigned orders")
	}
	return list, nil
}

func (s *service) FindDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindDetail(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order detail")
	}
	return order, nil
}

// load fetches the order and rejects work on cancelled ones.
func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := repo.Find(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.IsCancelled() {
		return nil, pkgerrors.New(pkgerrors.CodeOrderCancelled, "order has been cancelled").
			WithDetails(map[string]any{"cancelled_at": order.CancelledAt})
	}
	return order, nil
}

func (s *service) loadForAgent(ctx context.Context, repo Repository, orderID, agentID uuid.UUID) (*models.Order, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.AgentUserID == nil || *order.AgentUserID != agentID {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "order is not assigned to this agent")
	}
	return order, nil
}

func (s *service) loadForAgentNoTx(ctx context.Context, orderID, agentID uuid.UUID) (*models.Order, error) {
	return s.loadForAgent(ctx, s.repo, orderID, agentID)
}

// replayConflict re-reads the row after a lost optimistic write to surface the
// most truthful error.
func (s *service) replayConflict(ctx context.Context, repo Repository, orderID uuid.UUID, reason string) error {
	current, err := repo.Find(ctx, orderID)
	if err == nil && current.IsCancelled() {
		return pkgerrors.New(pkgerrors.CodeOrderCancelled, "order has been cancelled").
			WithDetails(map[string]any{"cancelled_at": current.CancelledAt})
	}
	return stateConflict(reason, "order state changed concurrently")
}

func (s *service) agentEarningCents(deliveryFeeCents int) int {
	percent, err := decimal.NewFromString(s.cfg.AgentSharePercent)
	if err != nil {
		percent = decimal.NewFromInt(80)
	}
	share := decimal.NewFromInt(int64(deliveryFeeCents)).
		Mul(percent).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return int(share.IntPart())
}

func (s *service) publishStatusUpdate(ctx context.Context, order *models.Order, status string) {
	audience := []events.Audience{
		events.ForBuyer(order.BuyerUserID),
		events.ForSeller(order.SellerStoreID),
		events.ForAdmins(),
	}
	s.events.Publish(ctx, events.Event{
		Topic:       enums.EventTopicStatusUpdate,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Data:        map[string]any{"status": status},
		Audience:    audience,
	})
}

func stateConflict(reason, message string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).
		WithDetails(map[string]any{"reason": reason})
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
