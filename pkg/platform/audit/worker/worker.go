package worker

import (
	"context"
	"log/slog"

	audit "relay/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. Store
// failures are logged; audit never blocks dispatch.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run persists events until the inbox is closed. Remaining events are drained
// before it returns, so closing the inbox is the shutdown signal.
func (w *Worker) Run(ctx context.Context) {
	for event := range w.inbox {
		if err := w.store.Append(ctx, event); err != nil {
			w.logger.ErrorContext(ctx, "failed to persist audit event",
				"action", event.Action,
				"event_id", event.EventID,
				"error", err,
			)
		}
	}
}
