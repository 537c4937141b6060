package cod

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/UDDITwork/ZAMMER-sub011/internal/events"
	"github.com/UDDITwork/ZAMMER-sub011/internal/fulfillment"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/db/models"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
	pkgerrors "github.com/UDDITwork/ZAMMER-sub011/pkg/errors"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/gateway"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/pagination"
)

type stubRepo struct {
	orders  map[uuid.UUID]*models.Order
	history []models.OrderStatusHistory
}

func newStubRepo(orders ...*models.Order) *stubRepo {
	r := &stubRepo{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *stubRepo) WithTx(tx *gorm.DB) fulfillment.Repository { return r }

func (r *stubRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.orders[order.ID] = order
	return order, nil
}

func (r *stubRepo) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	return nil
}

func (r *stubRepo) Find(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *order
	return &clone, nil
}

func (r *stubRepo) FindDetail(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.Find(ctx, id)
}

func (r *stubRepo) ListAvailable(ctx context.Context, params pagination.Params) (*fulfillment.OrderList, error) {
	return &fulfillment.OrderList{}, nil
}

func (r *stubRepo) ListAssigned(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*fulfillment.OrderList, error) {
	return &fulfillment.OrderList{}, nil
}

func (r *stubRepo) CountActiveForAgent(ctx context.Context, agentID uuid.UUID, exclude uuid.UUID) (int64, error) {
	return 0, nil
}

func (r *stubRepo) UpdateWhere(ctx context.Context, orderID uuid.UUID, conditions map[string]any, updates map[string]any) (int64, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return 0, nil
	}
	for column, expected := range conditions {
		switch column {
		case "cod_collected":
			if order.CodCollected != expected.(bool) {
				return 0, nil
			}
		case "is_paid":
			if order.IsPaid != expected.(bool) {
				return 0, nil
			}
		case "cod_charge_id":
			if expected == nil {
				if order.CodChargeID != nil {
					return 0, nil
				}
			} else if order.CodChargeID == nil || *order.CodChargeID != expected.(string) {
				return 0, nil
			}
		}
	}
	for column, value := range updates {
		switch column {
		case "cod_collected":
			order.CodCollected = value.(bool)
		case "is_paid":
			order.IsPaid = value.(bool)
		case "cod_method":
			method := value.(enums.CODMethod)
			order.CodMethod = &method
		case "cod_transaction_id":
			id := value.(string)
			order.CodTransactionID = &id
		case "cod_charge_id":
			if value == nil {
				order.CodChargeID = nil
			} else {
				id := value.(string)
				order.CodChargeID = &id
			}
		case "cod_collected_at":
			at := value.(time.Time)
			order.CodCollectedAt = &at
		case "otp_required":
			order.OtpRequired = value.(bool)
		}
	}
	return 1, nil
}

func (r *stubRepo) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	r.history = append(r.history, *entry)
	return nil
}

func (r *stubRepo) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	return r.history, nil
}

func (r *stubRepo) FindApprovalExpired(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func (r *stubRepo) FindInFlightQRCharges(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	for _, order := range r.orders {
		if order.CodChargeID != nil && !order.CodCollected {
			out = append(out, *order)
		}
	}
	return out, nil
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubEvents struct {
	published []events.Event
}

func (s *stubEvents) Publish(ctx context.Context, event events.Event) {
	s.published = append(s.published, event)
}

type stubOtpSender struct {
	sent     []uuid.UUID
	failWith error
}

func (s *stubOtpSender) SendOtp(ctx context.Context, input fulfillment.AgentActionInput) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.sent = append(s.sent, input.OrderID)
	return nil
}

type stubGateway struct {
	created []gateway.QRChargeParams
	charge  *gateway.Charge
	status  []*gateway.Charge
	calls   int
}

func (s *stubGateway) CreateQRCharge(ctx context.Context, params gateway.QRChargeParams) (*gateway.Charge, error) {
	s.created = append(s.created, params)
	return s.charge, nil
}

func (s *stubGateway) GetChargeStatus(ctx context.Context, chargeID string) (*gateway.Charge, error) {
	if s.calls >= len(s.status) {
		return s.status[len(s.status)-1], nil
	}
	charge := s.status[s.calls]
	s.calls++
	return charge, nil
}

type stubWatcher struct {
	watched []string
	stopped []uuid.UUID
}

func (s *stubWatcher) Watch(orderID uuid.UUID, chargeID string) {
	s.watched = append(s.watched, chargeID)
}

func (s *stubWatcher) Stop(orderID uuid.UUID) {
	s.stopped = append(s.stopped, orderID)
}

func codOrder(agentID uuid.UUID) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:                     uuid.New(),
		OrderNumber:            "ORD-20250108-001",
		BuyerUserID:            uuid.New(),
		BuyerPhone:             "+919876500001",
		SellerStoreID:          uuid.New(),
		PaymentMethod:          enums.PaymentMethodCashOnDelivery,
		TotalCents:             125000,
		DeliveryFeeCents:       5000,
		LifecycleStatus:        enums.LifecycleStatusOutForDelivery,
		ApprovalStatus:         enums.ApprovalStatusApproved,
		AgentStatus:            enums.AgentStatusLocationReached,
		AgentUserID:            &agentID,
		BuyerLocationReachedAt: &now,
	}
}

func newTestService(t *testing.T, repo *stubRepo) (Service, *stubEvents, *stubOtpSender, *stubGateway, *stubWatcher) {
	t.Helper()
	publisher := &stubEvents{}
	otp := &stubOtpSender{}
	gw := &stubGateway{charge: &gateway.Charge{ID: "chg_1", PaymentURL: "https://pay.example/chg_1"}}
	watcher := &stubWatcher{}
	svc, err := NewService(repo, stubTx{}, publisher, otp, gw, watcher)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, publisher, otp, gw, watcher
}

func TestMarkCashCollected(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	repo := newStubRepo(order)
	svc, publisher, otp, _, _ := newTestService(t, repo)

	err := svc.MarkCashCollected(context.Background(), CashCollectInput{OrderID: order.ID, AgentUserID: agent})
	if err != nil {
		t.Fatalf("MarkCashCollected: %v", err)
	}

	got := repo.orders[order.ID]
	if !got.CodCollected || !got.IsPaid {
		t.Errorf("collected=%v paid=%v, want both true", got.CodCollected, got.IsPaid)
	}
	if got.CodMethod == nil || *got.CodMethod != enums.CODMethodCash {
		t.Errorf("cod method = %v, want cash", got.CodMethod)
	}
	if len(publisher.published) != 1 || publisher.published[0].Topic != enums.EventTopicPaymentComplete {
		t.Fatalf("events = %+v, want one payment-completed", publisher.published)
	}
	if len(otp.sent) != 1 {
		t.Errorf("otp sent %d times, want 1 after cash settle", len(otp.sent))
	}
}

func TestMarkCashCollectedReplayIsNoop(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	order.CodCollected = true
	order.IsPaid = true
	repo := newStubRepo(order)
	svc, publisher, otp, _, _ := newTestService(t, repo)

	if err := svc.MarkCashCollected(context.Background(), CashCollectInput{OrderID: order.ID, AgentUserID: agent}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(publisher.published) != 0 || len(otp.sent) != 0 {
		t.Error("replay must not republish or resend the code")
	}
}

func TestMarkCashCollectedWrongAgent(t *testing.T) {
	order := codOrder(uuid.New())
	repo := newStubRepo(order)
	svc, _, _, _, _ := newTestService(t, repo)

	err := svc.MarkCashCollected(context.Background(), CashCollectInput{OrderID: order.ID, AgentUserID: uuid.New()})
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("err = %v, want UNAUTHORIZED", err)
	}
}

func TestStartQRPayment(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	repo := newStubRepo(order)
	svc, _, _, gw, watcher := newTestService(t, repo)

	result, err := svc.StartQRPayment(context.Background(), QRStartInput{OrderID: order.ID, AgentUserID: agent})
	if err != nil {
		t.Fatalf("StartQRPayment: %v", err)
	}
	if result.ChargeID != "chg_1" || result.PaymentURL == "" {
		t.Errorf("result = %+v", result)
	}
	if len(gw.created) != 1 {
		t.Fatalf("gateway called %d times, want 1", len(gw.created))
	}
	if gw.created[0].IdempotencyKey != "cod-"+order.ID.String() {
		t.Errorf("idempotency key = %q", gw.created[0].IdempotencyKey)
	}
	if gw.created[0].AmountCents != int64(order.TotalCents) {
		t.Errorf("amount = %d, want %d", gw.created[0].AmountCents, order.TotalCents)
	}

	got := repo.orders[order.ID]
	if got.CodChargeID == nil || *got.CodChargeID != "chg_1" {
		t.Errorf("cod charge id = %v, want chg_1", got.CodChargeID)
	}
	if len(watcher.watched) != 1 {
		t.Errorf("watcher registered %d charges, want 1", len(watcher.watched))
	}
}

func TestStartQRPaymentAfterSettle(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	order.CodCollected = true
	order.IsPaid = true
	repo := newStubRepo(order)
	svc, _, _, _, _ := newTestService(t, repo)

	_, err := svc.StartQRPayment(context.Background(), QRStartInput{OrderID: order.ID, AgentUserID: agent})
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("err = %v, want STATE_CONFLICT", err)
	}
}

func TestApplyGatewayPaidSettlesOnce(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	charge := "chg_1"
	order.CodChargeID = &charge
	repo := newStubRepo(order)
	svc, publisher, otp, _, _ := newTestService(t, repo)

	settled, err := svc.ApplyGatewayPaid(context.Background(), order.ID, "txn_9")
	if err != nil {
		t.Fatalf("ApplyGatewayPaid: %v", err)
	}
	if !settled {
		t.Fatal("first apply should settle")
	}

	got := repo.orders[order.ID]
	if !got.IsPaid || !got.CodCollected {
		t.Error("settle flags not written")
	}
	if got.CodTransactionID == nil || *got.CodTransactionID != "txn_9" {
		t.Errorf("transaction id = %v, want txn_9", got.CodTransactionID)
	}
	if len(otp.sent) != 1 {
		t.Errorf("otp sent %d times, want 1", len(otp.sent))
	}

	// Second settle, e.g. the poller racing a pushed gateway event.
	settled, err = svc.ApplyGatewayPaid(context.Background(), order.ID, "txn_9")
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if settled {
		t.Error("second apply must be a no-op")
	}
	if len(publisher.published) != 1 {
		t.Errorf("published %d events, want exactly 1", len(publisher.published))
	}
	if len(otp.sent) != 1 {
		t.Errorf("otp resent on replay")
	}
}

func TestApplyGatewayPaidCancelledOrder(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	order.LifecycleStatus = enums.LifecycleStatusCancelled
	repo := newStubRepo(order)
	svc, _, _, _, _ := newTestService(t, repo)

	_, err := svc.ApplyGatewayPaid(context.Background(), order.ID, "txn_9")
	if !pkgerrors.IsCode(err, pkgerrors.CodeOrderCancelled) {
		t.Fatalf("err = %v, want ORDER_CANCELLED", err)
	}
}

func TestMarkChargeFailedClearsCharge(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	charge := "chg_1"
	order.CodChargeID = &charge
	repo := newStubRepo(order)
	svc, _, _, _, _ := newTestService(t, repo)

	if err := svc.MarkChargeFailed(context.Background(), order.ID, charge); err != nil {
		t.Fatalf("MarkChargeFailed: %v", err)
	}
	if repo.orders[order.ID].CodChargeID != nil {
		t.Error("charge id should be cleared so the agent can retry")
	}
	if len(repo.history) != 1 || repo.history[0].Status != "cod_qr_failed" {
		t.Errorf("history = %+v", repo.history)
	}
}

func TestResumeInFlight(t *testing.T) {
	agent := uuid.New()
	pending := codOrder(agent)
	charge := "chg_1"
	pending.CodChargeID = &charge
	settled := codOrder(agent)
	done := "chg_2"
	settled.CodChargeID = &done
	settled.CodCollected = true
	repo := newStubRepo(pending, settled)
	svc, _, _, _, watcher := newTestService(t, repo)

	count, err := svc.ResumeInFlight(context.Background())
	if err != nil {
		t.Fatalf("ResumeInFlight: %v", err)
	}
	if count != 1 || len(watcher.watched) != 1 || watcher.watched[0] != charge {
		t.Fatalf("resumed %d watchers %v, want just chg_1", count, watcher.watched)
	}
}

func TestMarkCashCollectedArmsOtpGateWhenSmsFails(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	repo := newStubRepo(order)
	svc, _, otp, _, _ := newTestService(t, repo)
	otp.failWith = pkgerrors.New(pkgerrors.CodeDependency, "sms provider down")

	err := svc.MarkCashCollected(context.Background(), CashCollectInput{OrderID: order.ID, AgentUserID: agent})
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("err = %v, want the send failure surfaced", err)
	}

	got := repo.orders[order.ID]
	if !got.CodCollected || !got.IsPaid {
		t.Error("settle must stick even when the code send fails")
	}
	if !got.OtpRequired {
		t.Error("otp gate must arm with the settle, not with the sms send")
	}
}

func TestApplyGatewayPaidArmsOtpGateWhenSmsFails(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	charge := "chg_1"
	order.CodChargeID = &charge
	repo := newStubRepo(order)
	svc, _, otp, _, _ := newTestService(t, repo)
	otp.failWith = pkgerrors.New(pkgerrors.CodeDependency, "sms provider down")

	settled, err := svc.ApplyGatewayPaid(context.Background(), order.ID, "txn_9")
	if !settled {
		t.Fatal("settle must stick even when the code send fails")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("err = %v, want the send failure surfaced", err)
	}
	if !repo.orders[order.ID].OtpRequired {
		t.Error("otp gate must arm with the settle")
	}
}

func TestApplyGatewayPaidStopsWatcher(t *testing.T) {
	agent := uuid.New()
	order := codOrder(agent)
	charge := "chg_1"
	order.CodChargeID = &charge
	repo := newStubRepo(order)
	svc, _, _, _, watcher := newTestService(t, repo)

	if _, err := svc.ApplyGatewayPaid(context.Background(), order.ID, "txn_9"); err != nil {
		t.Fatalf("ApplyGatewayPaid: %v", err)
	}
	if len(watcher.stopped) != 1 || watcher.stopped[0] != order.ID {
		t.Fatalf("stopped = %v, want the settled order", watcher.stopped)
	}

	// A settle observed elsewhere still cuts the local poll task.
	if _, err := svc.ApplyGatewayPaid(context.Background(), order.ID, "txn_9"); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(watcher.stopped) != 2 {
		t.Errorf("stopped = %v, want a stop per apply", watcher.stopped)
	}
}

func TestStopWatchingForwardsToWatcher(t *testing.T) {
	repo := newStubRepo()
	svc, _, _, _, watcher := newTestService(t, repo)

	id := uuid.New()
	svc.StopWatching(id)
	if len(watcher.stopped) != 1 || watcher.stopped[0] != id {
		t.Fatalf("stopped = %v, want %s", watcher.stopped, id)
	}
}
