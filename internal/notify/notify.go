package notify

import (
	"context"
	"encoding/json"
	"errors"

	"duka/internal/payments"
)

// Broadcaster pushes a message to every subscriber of a topic.
type Broadcaster interface {
	Broadcast(topic string, data []byte)
}

// HubNotifier delivers payment events over the realtime hub. Events are
// published under both the order number and the checkout request id, so a
// client may subscribe to either.
type HubNotifier struct {
	hub Broadcaster
}

// NewHubNotifier constructs a hub-backed notifier.
func NewHubNotifier(hub Broadcaster) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) PaymentEvent(ctx context.Context, evt payments.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	n.hub.Broadcast(evt.OrderNumber, data)
	if evt.CheckoutRequestID != "" {
		n.hub.Broadcast(evt.CheckoutRequestID, data)
	}
	return nil
}

// Fanout delivers each event to every target, collecting errors so all
// targets get a chance to run.
type Fanout struct {
	targets []payments.Notifier
}

// NewFanout constructs a notifier that forwards to each target in order.
func NewFanout(targets ...payments.Notifier) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) PaymentEvent(ctx context.Context, evt payments.Event) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.PaymentEvent(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop is a stub notifier that always succeeds.
type Noop struct{}

func (Noop) PaymentEvent(context.Context, payments.Event) error { return nil }
