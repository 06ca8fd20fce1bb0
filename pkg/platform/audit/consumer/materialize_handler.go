package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"relay/internal/platform/kafka/consumer"
	audit "relay/pkg/platform/audit"
	"relay/pkg/platform/audit/store/postgres"
)

// MaterializeStore writes relayed events into the queryable audit table.
type MaterializeStore interface {
	AppendWithID(ctx context.Context, auditID uuid.UUID, event audit.Event) error
}

// MaterializeHandler writes audit records consumed from Kafka back into
// audit_events. Inserts are keyed by the audit id so redelivery is harmless.
type MaterializeHandler struct {
	store  MaterializeStore
	logger *slog.Logger
}

func NewMaterializeHandler(store MaterializeStore, logger *slog.Logger) *MaterializeHandler {
	return &MaterializeHandler{store: store, logger: logger}
}

// Handle returns an error only for store failures, leaving the record
// uncommitted. Malformed records are logged and committed.
func (h *MaterializeHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	var payload postgres.Payload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		h.logger.WarnContext(ctx, "failed to unmarshal audit payload",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	auditID, err := uuid.Parse(payload.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to parse audit id", "id", payload.ID, "error", err)
		return nil
	}
	event, err := payload.Event()
	if err != nil {
		h.logger.WarnContext(ctx, "invalid audit payload", "audit_id", auditID, "error", err)
		return nil
	}

	if err := h.store.AppendWithID(ctx, auditID, event); err != nil {
		return fmt.Errorf("materialize audit event %s: %w", auditID, err)
	}
	return nil
}
