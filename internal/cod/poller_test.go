package cod

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/gateway"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

type recordingSettler struct {
	mu     sync.Mutex
	paid   []string
	failed []string
	done   chan struct{}
}

func newRecordingSettler() *recordingSettler {
	return &recordingSettler{done: make(chan struct{}, 4)}
}

func (s *recordingSettler) ApplyGatewayPaid(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error) {
	s.mu.Lock()
	s.paid = append(s.paid, transactionID)
	s.mu.Unlock()
	s.done <- struct{}{}
	return true, nil
}

func (s *recordingSettler) MarkChargeFailed(ctx context.Context, orderID uuid.UUID, chargeID string) error {
	s.mu.Lock()
	s.failed = append(s.failed, chargeID)
	s.mu.Unlock()
	s.done <- struct{}{}
	return nil
}

func fastPollingConfig() config.CodPollingConfig {
	return config.CodPollingConfig{
		ShortInterval: time.Millisecond,
		ShortWindow:   50 * time.Millisecond,
		LongInterval:  5 * time.Millisecond,
		Ceiling:       200 * time.Millisecond,
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{Level: zerolog.ErrorLevel})
}

func TestPollerSettlesWhenPaid(t *testing.T) {
	gw := &stubGateway{status: []*gateway.Charge{
		{ID: "chg_1", State: gateway.ChargeStatePending},
		{ID: "chg_1", State: gateway.ChargeStatePending},
		{ID: "chg_1", State: gateway.ChargeStatePaid, TransactionID: "txn_9"},
	}}
	settler := newRecordingSettler()
	poller := NewPoller(gw, settler, fastPollingConfig(), nil, testLogger())
	defer poller.Close()

	poller.Watch(uuid.New(), "chg_1")

	select {
	case <-settler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never settled the charge")
	}

	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.paid) != 1 || settler.paid[0] != "txn_9" {
		t.Fatalf("paid = %v, want [txn_9]", settler.paid)
	}
}

func TestPollerRecordsFailure(t *testing.T) {
	gw := &stubGateway{status: []*gateway.Charge{
		{ID: "chg_1", State: gateway.ChargeStateFailed},
	}}
	settler := newRecordingSettler()
	poller := NewPoller(gw, settler, fastPollingConfig(), nil, testLogger())
	defer poller.Close()

	poller.Watch(uuid.New(), "chg_1")

	select {
	case <-settler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never recorded the failure")
	}

	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.failed) != 1 {
		t.Fatalf("failed = %v, want one entry", settler.failed)
	}
}

func TestPollerGivesUpAtCeiling(t *testing.T) {
	gw := &stubGateway{status: []*gateway.Charge{
		{ID: "chg_1", State: gateway.ChargeStatePending},
	}}
	settler := newRecordingSettler()
	cfg := fastPollingConfig()
	cfg.Ceiling = 30 * time.Millisecond
	poller := NewPoller(gw, settler, cfg, nil, testLogger())

	poller.Watch(uuid.New(), "chg_1")
	poller.Close()

	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.paid) != 0 || len(settler.failed) != 0 {
		t.Fatal("a pending charge must not settle or fail")
	}
}

func TestPollerDeduplicatesWatch(t *testing.T) {
	gw := &stubGateway{status: []*gateway.Charge{
		{ID: "chg_1", State: gateway.ChargeStatePending},
	}}
	settler := newRecordingSettler()
	poller := NewPoller(gw, settler, fastPollingConfig(), nil, testLogger())
	defer poller.Close()

	orderID := uuid.New()
	poller.Watch(orderID, "chg_1")
	poller.Watch(orderID, "chg_1")

	poller.mu.Lock()
	inflight := len(poller.inflight)
	poller.mu.Unlock()
	if inflight != 1 {
		t.Fatalf("inflight = %d, want 1", inflight)
	}
}

func TestPollerStopCutsPolling(t *testing.T) {
	gw := &stubGateway{status: []*gateway.Charge{
		{ID: "chg_1", State: gateway.ChargeStatePending},
	}}
	settler := newRecordingSettler()
	cfg := fastPollingConfig()
	cfg.Ceiling = 10 * time.Second
	poller := NewPoller(gw, settler, cfg, nil, testLogger())
	defer poller.Close()

	orderID := uuid.New()
	poller.Watch(orderID, "chg_1")
	poller.Stop(orderID)

	deadline := time.Now().Add(2 * time.Second)
	for {
		poller.mu.Lock()
		_, running := poller.inflight[orderID]
		poller.mu.Unlock()
		if !running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poll task still running after Stop")
		}
		time.Sleep(time.Millisecond)
	}

	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.paid) != 0 || len(settler.failed) != 0 {
		t.Fatal("a stopped poll must not settle or fail the charge")
	}
}
