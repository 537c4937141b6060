package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/UDDITwork/ZAMMER-sub011/pkg/enums"
)

func TestAudienceKeys(t *testing.T) {
	agentID := uuid.New()
	if got := ForAgent(agentID).Key(); got != "agent:"+agentID.String() {
		t.Fatalf("unexpected agent key %s", got)
	}
	if got := ForAdmins().Key(); got != "admin" {
		t.Fatalf("unexpected admin key %s", got)
	}
}

func TestPublishReachesJoinedSubscriber(t *testing.T) {
	d := NewDispatcher(4, nil)
	agentID := uuid.New()
	sub := d.Join(ForAgent(agentID))
	defer d.Leave(sub)

	event := Event{
		Topic:    enums.EventTopicAssignment,
		OrderID:  uuid.New(),
		Audience: []Audience{ForAgent(agentID), ForAdmins()},
	}
	d.Publish(context.Background(), event)

	select {
	case got := <-sub.C():
		if got.Topic != enums.EventTopicAssignment {
			t.Fatalf("unexpected topic %s", got.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishSkipsOtherAudiences(t *testing.T) {
	d := NewDispatcher(4, nil)
	sub := d.Join(ForAgent(uuid.New()))
	defer d.Leave(sub)

	d.Publish(context.Background(), Event{
		Topic:    enums.EventTopicStatusUpdate,
		Audience: []Audience{ForAgent(uuid.New())},
	})

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected delivery: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	d := NewDispatcher(1, nil)
	agentID := uuid.New()
	sub := d.Join(ForAgent(agentID))
	defer d.Leave(sub)

	ctx := context.Background()
	aud := []Audience{ForAgent(agentID)}
	d.Publish(ctx, Event{Topic: enums.EventTopicAssignment, Audience: aud})
	// Buffer is full now; this publish must not block.
	done := make(chan struct{})
	go func() {
		d.Publish(ctx, Event{Topic: enums.EventTopicStatusUpdate, Audience: aud})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	got := <-sub.C()
	if got.Topic != enums.EventTopicAssignment {
		t.Fatalf("expected first event retained, got %s", got.Topic)
	}
	select {
	case extra := <-sub.C():
		t.Fatalf("expected second event dropped, got %s", extra.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaveClosesChannel(t *testing.T) {
	d := NewDispatcher(4, nil)
	aud := ForAgent(uuid.New())
	sub := d.Join(aud)
	if d.SubscriberCount(aud.Key()) != 1 {
		t.Fatal("expected one subscriber")
	}
	d.Leave(sub)
	if d.SubscriberCount(aud.Key()) != 0 {
		t.Fatal("expected subscriber removed")
	}
	if _, open := <-sub.C(); open {
		t.Fatal("expected channel closed after leave")
	}
	// Second leave is a no-op.
	d.Leave(sub)
}

func TestPublisherDeliversLocallyWithoutBus(t *testing.T) {
	d := NewDispatcher(4, nil)
	pub, err := NewPublisher(d, nil, "", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	agentID := uuid.New()
	sub := d.Join(ForAgent(agentID))
	defer d.Leave(sub)

	pub.Publish(context.Background(), Event{
		Topic:    enums.EventTopicOrderDelivered,
		Audience: []Audience{ForAgent(agentID)},
	})

	select {
	case got := <-sub.C():
		if got.OccurredAt.IsZero() {
			t.Fatal("expected occurred_at to be stamped")
		}
		if got.Origin != pub.Origin() {
			t.Fatalf("expected origin %s, got %s", pub.Origin(), got.Origin)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

type recordingBus struct {
	channel  string
	payloads [][]byte
}

func (r *recordingBus) Publish(ctx context.Context, channel string, payload any) error {
	r.channel = channel
	r.payloads = append(r.payloads, payload.([]byte))
	return nil
}

func TestPublisherMirrorsOnBus(t *testing.T) {
	d := NewDispatcher(4, nil)
	bus := &recordingBus{}
	pub, err := NewPublisher(d, bus, "zm:events", nil)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	pub.Publish(context.Background(), Event{
		Topic:    enums.EventTopicPaymentComplete,
		OrderID:  uuid.New(),
		Audience: []Audience{ForAdmins()},
	})

	if bus.channel != "zm:events" {
		t.Fatalf("unexpected bridge channel %s", bus.channel)
	}
	if len(bus.payloads) != 1 {
		t.Fatalf("expected one bridged payload, got %d", len(bus.payloads))
	}
}

func TestBridgeSkipsOwnOrigin(t *testing.T) {
	d := NewDispatcher(4, nil)
	b := &Bridge{dispatcher: d, channel: "zm:events", origin: "self"}
	agentID := uuid.New()
	sub := d.Join(ForAgent(agentID))
	defer d.Leave(sub)

	own := []byte(`{"topic":"assignment","audience":[{"role":"agent","id":"` + agentID.String() + `"}],"origin":"self"}`)
	b.deliver(context.Background(), own)
	select {
	case got := <-sub.C():
		t.Fatalf("own-origin event must be skipped, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	remote := []byte(`{"topic":"assignment","audience":[{"role":"agent","id":"` + agentID.String() + `"}],"origin":"other"}`)
	b.deliver(context.Background(), remote)
	select {
	case got := <-sub.C():
		if got.Origin != "other" {
			t.Fatalf("unexpected origin %s", got.Origin)
		}
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}
}
