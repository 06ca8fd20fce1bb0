package action

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relay/internal/broadcast"
	"relay/internal/inbox"
)

// NotifyUserHandler pushes the payload to the target user's group.
type NotifyUserHandler struct {
	inbox     inbox.Store
	publisher broadcast.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewNotifyUserHandler(store inbox.Store, publisher broadcast.Publisher, logger *slog.Logger) *NotifyUserHandler {
	return &NotifyUserHandler{inbox: store, publisher: publisher, logger: logger, now: time.Now}
}

// Execute saves the inbox record first when configured. An inbox failure is
// logged only; a publish failure is returned so the attempt is retried.
func (h *NotifyUserHandler) Execute(ctx context.Context, inv Invocation) (Result, error) {
	target := inv.Target()
	group, err := broadcast.GroupKey(target)
	if err != nil {
		return Result{}, fmt.Errorf("notify_user target: %w", err)
	}

	data := inv.Payload()
	if inv.Notification.SaveNotification && h.inbox != nil {
		if err := h.inbox.Save(ctx, inbox.NewNotification(target, data, h.now())); err != nil {
			h.logger.ErrorContext(ctx, "failed to save user notification",
				"event_id", inv.EventID,
				"user_id", target,
				"error", err,
			)
		}
	}

	if err := h.publisher.Publish(ctx, group, broadcast.NewNotification(data)); err != nil {
		return Result{}, fmt.Errorf("publish to %s: %w", group, err)
	}
	return Result{Detail: "notification sent"}, nil
}
