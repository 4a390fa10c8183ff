package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

type fakeChannel struct {
	exchange string
	msg      amqp.Publishing
	err      error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	f.exchange = exchange
	f.msg = msg
	return f.err
}

func TestPublishEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := &EventPublisher{ch: ch}

	event := &domain.FleetEvent{
		Type:      domain.EventStopArrival,
		RouteID:   "R1",
		VehicleID: "B1",
		StopID:    "S2",
		Timestamp: 1715003456,
	}
	if err := p.PublishEvent(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ch.exchange != ExchangeName {
		t.Errorf("expected %s, got %s", ExchangeName, ch.exchange)
	}
	if ch.msg.Type != "stop_arrival" {
		t.Errorf("expected stop_arrival, got %s", ch.msg.Type)
	}
	if ch.msg.DeliveryMode != amqp.Persistent {
		t.Error("expected persistent delivery")
	}

	var got domain.FleetEvent
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != *event {
		t.Errorf("expected %+v, got %+v", *event, got)
	}
}

func TestPublishEvent_ChannelError(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	p := &EventPublisher{ch: ch}

	err := p.PublishEvent(context.Background(), &domain.FleetEvent{Type: domain.EventVehicleOnline})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
