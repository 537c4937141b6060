package cod

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/config"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/gateway"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/metrics"
)

var errChargePending = errors.New("charge still pending")

type chargeSettler interface {
	ApplyGatewayPaid(ctx context.Context, orderID uuid.UUID, transactionID string) (bool, error)
	MarkChargeFailed(ctx context.Context, orderID uuid.UUID, chargeID string) error
}

// Poller watches pending QR charges and settles orders when the gateway
// reports payment. One goroutine per charge; a second Watch for the same
// order is a no-op while the first is running.
type Poller struct {
	gateway chargeGateway
	settler chargeSettler
	cfg     config.CodPollingConfig
	metrics *metrics.CodPollerMetrics
	logg    *logger.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]context.CancelFunc
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPoller(gw chargeGateway, settler chargeSettler, cfg config.CodPollingConfig, m *metrics.CodPollerMetrics, logg *logger.Logger) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		gateway:  gw,
		settler:  settler,
		cfg:      cfg,
		metrics:  m,
		logg:     logg,
		inflight: make(map[uuid.UUID]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// BindSettler sets the settle target after construction. The service and the
// poller reference each other, so one of them has to be wired late.
func (p *Poller) BindSettler(s Service) {
	p.settler = s
}

// Watch starts polling the charge in the background.
func (p *Poller) Watch(orderID uuid.UUID, chargeID string) {
	p.mu.Lock()
	if _, running := p.inflight[orderID]; running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.inflight[orderID] = cancel
	p.mu.Unlock()

	p.metrics.PollerStarted()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.metrics.PollerStopped()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, orderID)
			p.mu.Unlock()
			cancel()
		}()
		p.poll(ctx, orderID, chargeID)
	}()
}

// Stop cuts the poll task for one order, if any is running. Settles observed
// by the other path and cancellations call this so the loop does not run out
// its ceiling.
func (p *Poller) Stop(orderID uuid.UUID) {
	p.mu.Lock()
	cancel, running := p.inflight[orderID]
	p.mu.Unlock()
	if running {
		cancel()
	}
}

// Close stops all pollers and waits for them to exit.
func (p *Poller) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) poll(ctx context.Context, orderID uuid.UUID, chargeID string) {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"order_id":  orderID.String(),
		"charge_id": chargeID,
	})

	backoff := retry.WithMaxDuration(p.cfg.Ceiling, p.cadence())
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		charge, err := p.gateway.GetChargeStatus(ctx, chargeID)
		if err != nil {
			p.metrics.IncPoll("error")
			p.logg.Warn(ctx, "charge status poll failed")
			return retry.RetryableError(err)
		}

		switch charge.State {
		case gateway.ChargeStatePaid:
			p.metrics.IncPoll("paid")
			settled, err := p.settler.ApplyGatewayPaid(ctx, orderID, charge.TransactionID)
			if err != nil {
				p.logg.Error(ctx, "failed to settle paid charge", err)
				return err
			}
			if settled {
				p.metrics.IncOutcome("settled")
				p.logg.Info(ctx, "qr charge settled by poller")
			} else {
				p.metrics.IncOutcome("settled_elsewhere")
			}
			return nil
		case gateway.ChargeStateFailed:
			p.metrics.IncPoll("failed")
			if err := p.settler.MarkChargeFailed(ctx, orderID, chargeID); err != nil {
				p.logg.Error(ctx, "failed to record charge failure", err)
				return err
			}
			p.metrics.IncOutcome("failed")
			return nil
		default:
			p.metrics.IncPoll("pending")
			return retry.RetryableError(errChargePending)
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			p.metrics.IncOutcome("stopped")
			return
		}
		p.metrics.IncOutcome("abandoned")
		p.logg.Warn(ctx, "gave up polling qr charge")
	}
}

// cadence polls fast for the window where buyers actually pay, then eases off
// until the ceiling cuts the loop.
func (p *Poller) cadence() retry.Backoff {
	start := time.Now()
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if time.Since(start) < p.cfg.ShortWindow {
			return p.cfg.ShortInterval, false
		}
		return p.cfg.LongInterval, false
	})
}
