package notify

import (
	"context"

	alertapp "yard-ttms/internal/alerts/application"
)

// MultiNotifier fans alert events out to several notifiers.
type MultiNotifier struct {
	notifiers []alertapp.AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...alertapp.AlertNotifier) *MultiNotifier {
	out := make([]alertapp.AlertNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return &MultiNotifier{notifiers: out}
}

// Notify forwards the event to every notifier.
func (m *MultiNotifier) Notify(ctx context.Context, event alertapp.AlertNotification) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		notifier.Notify(ctx, event)
	}
}
