package audit

import (
	"context"
	"time"

	"relay/pkg/domain"
)

// EventCategory classifies audit events by the part of the relay that emits
// them. Each category is relayed to its own Kafka topic.
type EventCategory string

const (
	// CategoryLifecycle covers acceptance, retries and terminal outcomes of events.
	CategoryLifecycle EventCategory = "lifecycle"

	// CategoryDelivery covers notification pushes to user groups.
	CategoryDelivery EventCategory = "delivery"

	// CategoryRealtime covers WebSocket sessions joining and leaving groups.
	CategoryRealtime EventCategory = "realtime"
)

// Categories lists every category, in topic provisioning order.
func Categories() []EventCategory {
	return []EventCategory{CategoryLifecycle, CategoryDelivery, CategoryRealtime}
}

// Topic returns the Kafka topic for a category under prefix.
func Topic(prefix string, category EventCategory) string {
	return prefix + "." + string(category)
}

// Event is emitted from dispatch and session code to capture key transitions.
// Keep it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	EventID   domain.EventID // zero for session events
	UserID    domain.UserID
	Action    string
	Status    string
	Reason    string
	RequestID string
	// Client is a short description of the connecting client (browser and OS)
	// for realtime events.
	Client string
}

type AuditEvent string

const (
	// Lifecycle events
	EventAccepted       AuditEvent = "event_accepted"
	EventRejected       AuditEvent = "event_rejected"
	EventRetryScheduled AuditEvent = "event_retry_scheduled"
	EventSucceeded      AuditEvent = "event_succeeded"
	EventFailed         AuditEvent = "event_failed"

	// Delivery events
	EventNotificationPublished AuditEvent = "notification_published"
	EventNotificationFailed    AuditEvent = "notification_failed"

	// Realtime events
	EventSessionConnected    AuditEvent = "session_connected"
	EventSessionRejected     AuditEvent = "session_rejected"
	EventSessionDisconnected AuditEvent = "session_disconnected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccepted:       CategoryLifecycle,
	EventRejected:       CategoryLifecycle,
	EventRetryScheduled: CategoryLifecycle,
	EventSucceeded:      CategoryLifecycle,
	EventFailed:         CategoryLifecycle,

	EventNotificationPublished: CategoryDelivery,
	EventNotificationFailed:    CategoryDelivery,

	EventSessionConnected:    CategoryRealtime,
	EventSessionRejected:     CategoryRealtime,
	EventSessionDisconnected: CategoryRealtime,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryLifecycle.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryLifecycle
}

// New builds an event for action with its category filled in.
func New(action AuditEvent) Event {
	return Event{Category: action.Category(), Action: string(action)}
}

// Store persists audit events. Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID domain.UserID) ([]Event, error)
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]Event, error)
}
