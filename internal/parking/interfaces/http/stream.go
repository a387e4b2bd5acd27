package http

import (
	"encoding/json"
	"time"

	parkingapp "yard-ttms/internal/parking/application"
	"yard-ttms/internal/sse"
)

const timeLayout = time.RFC3339

// BroadcastChanges returns a view callback that pushes each reloaded state to
// stream clients.
func BroadcastChanges(broker *sse.Broker) func(parkingapp.ViewState) {
	return func(state parkingapp.ViewState) {
		if broker == nil {
			return
		}
		payload, err := json.Marshal(state)
		if err != nil {
			return
		}
		broker.Broadcast("overrides", payload)
	}
}
