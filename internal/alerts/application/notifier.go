package application

import (
	"context"
	"time"

	alerts "yard-ttms/internal/alerts/domain"
)

// Alert lifecycle event types.
const (
	EventRaised       = "raised"
	EventAcknowledged = "acknowledged"
	EventSuperseded   = "superseded"
)

// AlertNotifier receives alert lifecycle events.
type AlertNotifier interface {
	Notify(ctx context.Context, event AlertNotification)
}

// AlertNotification represents a lifecycle update.
type AlertNotification struct {
	Type  string            `json:"type"`
	Alert alerts.AlertEvent `json:"alert"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
