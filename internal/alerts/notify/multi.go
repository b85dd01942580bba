package notify

import (
	"context"

	alertapp "aire-cloud/internal/alerts/application"
)

// MultiNotifier fans a committed alert event out to every configured
// sink (SSE stream, webhook). Sinks are independent, a failing one
// never blocks the others.
type MultiNotifier struct {
	sinks []alertapp.Notifier
}

// NewMultiNotifier builds the fan-out; nil entries are tolerated so
// callers can pass optional sinks unconditionally.
func NewMultiNotifier(sinks ...alertapp.Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

func (m *MultiNotifier) Notify(ctx context.Context, event alertapp.EventNotification) {
	if m == nil {
		return
	}
	for _, sink := range m.sinks {
		if sink != nil {
			sink.Notify(ctx, event)
		}
	}
}
