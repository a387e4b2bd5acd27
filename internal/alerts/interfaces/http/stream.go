package http

import (
	"context"
	"encoding/json"

	alertapp "yard-ttms/internal/alerts/application"
	"yard-ttms/internal/sse"
)

// StreamNotifier publishes alert lifecycle events to stream clients.
type StreamNotifier struct {
	broker *sse.Broker
}

// NewStreamNotifier constructs a notifier over broker.
func NewStreamNotifier(broker *sse.Broker) *StreamNotifier {
	return &StreamNotifier{broker: broker}
}

// Notify implements AlertNotifier.
func (n *StreamNotifier) Notify(_ context.Context, event alertapp.AlertNotification) {
	if n == nil || n.broker == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	n.broker.Broadcast("alert", payload)
}
