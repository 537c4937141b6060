package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/instance"
	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

type redisBus interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Publisher delivers events locally and mirrors them on the Redis channel so
// subscribers connected to other instances see them too. Publishing is best
// effort: failures are logged and swallowed, mutations never roll back on a
// notification problem.
type Publisher struct {
	dispatcher *Dispatcher
	bus        redisBus
	channel    string
	origin     string
	logg       *logger.Logger
}

// NewPublisher wires a publisher onto the local dispatcher and an optional
// Redis bus. Pass a nil bus to run single-instance.
func NewPublisher(dispatcher *Dispatcher, bus redisBus, channel string, logg *logger.Logger) (*Publisher, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	return &Publisher{
		dispatcher: dispatcher,
		bus:        bus,
		channel:    channel,
		origin:     fmt.Sprintf("%s-%s", instance.GetID(), uuid.NewString()),
		logg:       logg,
	}, nil
}

// Origin identifies this publisher in bridged envelopes.
func (p *Publisher) Origin() string {
	return p.origin
}

// Publish fans the event out locally and over the bridge.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.Origin = p.origin

	p.dispatcher.Publish(ctx, event)

	if p.bus == nil || p.channel == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		p.warn(ctx, event, "encoding event for bridge failed", err)
		return
	}
	if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
		p.warn(ctx, event, "bridging event to redis failed", err)
	}
}

func (p *Publisher) warn(ctx context.Context, event Event, msg string, err error) {
	if p.logg == nil {
		return
	}
	ctx = p.logg.WithFields(ctx, map[string]any{
		"topic":    event.Topic.String(),
		"order_id": event.OrderID.String(),
		"error":    err.Error(),
	})
	p.logg.Warn(ctx, msg)
}
