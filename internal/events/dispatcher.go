package events

import (
	"context"
	"sync"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/logger"
)

const defaultBuffer = 16

// Subscription is one subscriber's buffered feed on a channel key. The owner
// must Leave when done; events past the buffer are dropped.
type Subscription struct {
	key string
	ch  chan Event
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dispatcher fans events out to per-audience channels. It holds no history:
// a subscriber only sees events published while it is joined.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	logg   *logger.Logger
}

// NewDispatcher builds a dispatcher with the given per-subscriber buffer.
func NewDispatcher(buffer int, logg *logger.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logg:   logg,
	}
}

// Join registers a subscriber on the audience's channel.
func (d *Dispatcher) Join(aud Audience) *Subscription {
	sub := &Subscription{
		key: aud.Key(),
		ch:  make(chan Event, d.buffer),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[sub.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		d.subs[sub.key] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Leave removes the subscriber and closes its channel.
func (d *Dispatcher) Leave(sub *Subscription) {
	if sub == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.subs[sub.key]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(d.subs, sub.key)
	}
	close(sub.ch)
}

// Publish delivers the event to every joined subscriber of every audience.
// It never blocks: a full subscriber buffer drops the event for that
// subscriber only.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, aud := range event.Audience {
		for sub := range d.subs[aud.Key()] {
			select {
			case sub.ch <- event:
			default:
				if d.logg != nil {
					dropCtx := d.logg.WithFields(ctx, map[string]any{
						"topic":   event.Topic.String(),
						"channel": aud.Key(),
					})
					d.logg.Warn(dropCtx, "subscriber buffer full, event dropped")
				}
			}
		}
	}
}

// SubscriberCount reports how many subscribers a channel key currently has.
func (d *Dispatcher) SubscriberCount(key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[key])
}
