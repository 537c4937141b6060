package events

import (
	"context"
	"encoding/json"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

type redisSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// Bridge replays events published by other instances into the local
// dispatcher. Events originated locally are skipped; the publisher already
// delivered them.
type Bridge struct {
	dispatcher *Dispatcher
	sub        redisSubscriber
	channel    string
	origin     string
	logg       *logger.Logger
}

// NewBridge builds the cross-instance bridge for the given publisher origin.
func NewBridge(dispatcher *Dispatcher, sub redisSubscriber, channel, origin string, logg *logger.Logger) (*Bridge, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	if sub == nil {
		return nil, errors.New("redis subscriber required")
	}
	if channel == "" {
		return nil, errors.New("bridge channel required")
	}
	return &Bridge{
		dispatcher: dispatcher,
		sub:        sub,
		channel:    channel,
		origin:     origin,
		logg:       logg,
	}, nil
}

// Run consumes the Redis channel until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub, err := b.sub.Subscribe(ctx, b.channel)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.deliver(ctx, []byte(msg.Payload))
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		if b.logg != nil {
			b.logg.Warn(b.logg.WithField(ctx, "error", err.Error()), "dropping malformed bridged event")
		}
		return
	}
	if event.Origin != "" && event.Origin == b.origin {
		return
	}
	b.dispatcher.Publish(ctx, event)
}
