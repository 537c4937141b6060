package cod

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/UDDITwork/ZAMMER-sub011/internal/events"
	"github.com/UDDITwork/ZAMMER-sub011/internal/fulfillment"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/db/models"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/gateway"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

type otpSender interface {
	SendOtp(ctx context.Context, input fulfillment.AgentActionInput) error
}

type chargeGateway interface {
	CreateQRCharge(ctx context.Context, params gateway.QRChargeParams) (*gateway.Charge, error)
	GetChargeStatus(ctx context.Context, chargeID string) (*gateway.Charge, error)
}

type chargeWatcher interface {
	Watch(orderID uuid.UUID, chargeID string)
	Stop(orderID uuid.UUID)
}

// Service settles cash-on-delivery orders. Cash settles immediately; QR goes
// through the gateway and lands via ApplyGatewayPaid, whether the poller or an
// external event gets there first.
type Service interface {
	MarkCashCollected(ctx context.Context, input CashCollectInput) error
	StartQRPayment(ctx context.Context, input QRStartInput) (*QRPaymentResult, error)
	ApplyGatewayPaid(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error)
	MarkChargeFailed(ctx context.Context, orderID uuid.UUID, chargeID string) error
	ResumeInFlight(ctx context.Context) (int, error)
	StopWatching(orderID uuid.UUID)
}

type service struct {
	repo    fulfillment.Repository
	tx      txRunner
	events  eventPublisher
	otp     otpSender
	gateway chargeGateway
	watcher chargeWatcher
	now     func() time.Time
}

// NewService wires the COD settle paths. The watcher may be nil in processes
// that never start QR charges.
func NewService(repo fulfillment.Repository, tx txRunner, publisher eventPublisher, otp otpSender, gw chargeGateway, watcher chargeWatcher) (Service, error) {
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
		return nil, fmt.Errorf("otp sender required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		events:  publisher,
		otp:     otp,
		gateway: gw,
		watcher: watcher,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) MarkCashCollected(ctx context.Context, input CashCollectInput) error {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := s.loadForAgent(ctx, repo, input.OrderID, input.AgentUserID)
		if err != nil {
			return err
		}
		if loaded.CodCollected {
			return nil
		}
		if loaded.PaymentMethod != enums.PaymentMethodCashOnDelivery {
			return stateConflict("not_cod", "order is not cash on delivery")
		}
		if loaded.BuyerLocationReachedAt == nil {
			return stateConflict("not_at_buyer", "agent has not reached the buyer location")
		}

		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"cod_collected": false, "is_paid": false},
			map[string]any{
				"cod_collected":    true,
				"cod_collected_at": s.now(),
				"cod_method":       enums.CODMethodCash,
				"is_paid":          true,
				// The code gate arms with the settle itself, not with the
				// SMS send; a failed send must not unlock the handoff.
				"otp_required": true,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cash collection")
		}
		if rows == 0 {
			return stateConflict("already_settled", "payment already settled")
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "cod_cash_collected",
			ChangedByRole: enums.ActorRoleAgent,
			ChangedByID:   &input.AgentUserID,
			Notes:         input.Notes,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record cash collection history")
		}
		order = loaded
		return nil
	})
	if err != nil || order == nil {
		return err
	}

	s.publishPaymentComplete(ctx, order, string(enums.CODMethodCash), "")
	return s.otp.SendOtp(ctx, fulfillment.AgentActionInput{OrderID: order.ID, AgentUserID: input.AgentUserID})
}

func (s *service) StartQRPayment(ctx context.Context, input QRStartInput) (*QRPaymentResult, error) {
	order, err := s.loadForAgent(ctx, s.repo, input.OrderID, input.AgentUserID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != enums.PaymentMethodCashOnDelivery {
		return nil, stateConflict("not_cod", "order is not cash on delivery")
	}
	if order.CodCollected || order.IsPaid {
		return nil, stateConflict("already_settled", "payment already settled")
	}
	if order.BuyerLocationReachedAt == nil {
		return nil, stateConflict("not_at_buyer", "agent has not reached the buyer location")
	}

	// The idempotency key pins retries of this call to one gateway charge.
	charge, err := s.gateway.CreateQRCharge(ctx, gateway.QRChargeParams{
		OrderID:        order.ID.String(),
		OrderNumber:    order.OrderNumber,
		AmountCents:    int64(order.TotalCents),
		IdempotencyKey: "cod-" + order.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.repo.UpdateWhere(ctx, order.ID,
		map[string]any{"cod_collected": false, "is_paid": false},
		map[string]any{
			"cod_charge_id": charge.ID,
			"cod_method":    enums.CODMethodQR,
		})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist qr charge")
	}
	if rows == 0 {
		return nil, stateConflict("already_settled", "payment settled while creating the charge")
	}

	if err := s.repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:       order.ID,
		Status:        "cod_qr_initiated",
		ChangedByRole: enums.ActorRoleAgent,
		ChangedByID:   &input.AgentUserID,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record qr initiation")
	}

	if s.watcher != nil {
		s.watcher.Watch(order.ID, charge.ID)
	}
	return &QRPaymentResult{ChargeID: charge.ID, PaymentURL: charge.PaymentURL}, nil
}

// ApplyGatewayPaid is the single settle path for QR charges. Both the poller
// and pushed gateway events call it; the guarded update makes the second
// caller a no-op. The bool reports whether this call did the settling.
func (s *service) ApplyGatewayPaid(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error) {
	var order *models.Order
	var settled bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		loaded, err := repo.Find(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if loaded.IsCancelled() {
			// The money moved after cancellation; keep the record but do not
			// advance fulfillment.
			return pkgerrors.New(pkgerrors.CodeOrderCancelled, "order has been cancelled")
		}

		rows, err := repo.UpdateWhere(ctx, loaded.ID,
			map[string]any{"cod_collected": false, "is_paid": false},
			map[string]any{
				"cod_collected":      true,
				"cod_collected_at":   s.now(),
				"cod_method":         enums.CODMethodQR,
				"cod_transaction_id": transactionID,
				"is_paid":            true,
				// Arm the code gate with the settle, as on the cash path.
				"otp_required": true,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle qr payment")
		}
		if rows == 0 {
			return nil
		}

		if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:       loaded.ID,
			Status:        "cod_qr_paid",
			ChangedByRole: enums.ActorRoleSystem,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record qr settlement")
		}
		order = loaded
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !settled {
		// The other path got there first; cut any local poll task now
		// rather than letting it spin until its next tick.
		s.StopWatching(orderID)
		return false, nil
	}

	s.publishPaymentComplete(ctx, order, string(enums.CODMethodQR), transactionID)
	var sendErr error
	if order.AgentUserID != nil {
		sendErr = s.otp.SendOtp(ctx, fulfillment.AgentActionInput{OrderID: order.ID, AgentUserID: *order.AgentUserID})
	}
	// Stop last: when the settle came from the poller itself this cancels
	// the poll context, and the send above still needed it.
	s.StopWatching(orderID)
	return true, sendErr
}

func (s *service) MarkChargeFailed(ctx context.Context, orderID uuid.UUID, chargeID string) error {
	rows, err := s.repo.UpdateWhere(ctx, orderID,
		map[string]any{"cod_charge_id": chargeID, "cod_collected": false},
		map[string]any{"cod_charge_id": nil})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear failed charge")
	}
	defer s.StopWatching(orderID)
	if rows == 0 {
		return nil
	}
	return s.repo.AppendHistory(ctx, &models.OrderStatusHistory{
		OrderID:       orderID,
		Status:        "cod_qr_failed",
		ChangedByRole: enums.ActorRoleSystem,
	})
}

// ResumeInFlight re-registers pollers for charges that were pending when the
// process last stopped.
func (s *service) ResumeInFlight(ctx context.Context) (int, error) {
	if s.watcher == nil {
		return 0, nil
	}
	orders, err := s.repo.FindInFlightQRCharges(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list in-flight charges")
	}
	for _, order := range orders {
		if order.CodChargeID == nil {
			continue
		}
		s.watcher.Watch(order.ID, *order.CodChargeID)
	}
	return len(orders), nil
}

// StopWatching drops the poll task for the order's QR charge, if one runs in
// this process. Cancellation handlers call it so a dead order is not polled
// to the ceiling.
func (s *service) StopWatching(orderID uuid.UUID) {
	if s.watcher != nil {
		s.watcher.Stop(orderID)
	}
}

func (s *service) loadForAgent(ctx context.Context, repo fulfillment.Repository, orderID, agentID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "agent identity missing")
	}
	order, err := repo.Find(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.IsCancelled() {
		return nil, pkgerrors.New(pkgerrors.CodeOrderCancelled, "order has been cancelled")
	}
	if order.AgentUserID == nil || *order.AgentUserID != agentID {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "order is not assigned to this agent")
	}
	return order, nil
}

func (s *service) publishPaymentComplete(ctx context.Context, order *models.Order, method, transactionID string) {
	data := map[string]any{"method": method}
	if transactionID != "" {
		data["transaction_id"] = transactionID
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
		Topic:       enums.EventTopicPaymentComplete,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Data:        data,
		Audience:    audience,
	})
}

func stateConflict(reason, message string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, message).
		WithDetails(map[string]any{"reason": reason})
}
