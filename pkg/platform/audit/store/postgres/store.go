package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relay/pkg/domain"
	audit "relay/pkg/platform/audit"
	txcontext "relay/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the outbox
// relay; the consumer materializes them back into audit_events for queries.
type Store struct {
	db          *sql.DB
	topicPrefix string
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB, topicPrefix string) *Store {
	return &Store{db: db, topicPrefix: topicPrefix}
}

// Payload is the JSON structure published to Kafka.
// Field names match audit.Event for deserialization by the consumer.
type Payload struct {
	ID        string `json:"ID"`
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	EventID   string `json:"EventID,omitempty"`
	UserID    string `json:"UserID,omitempty"`
	Action    string `json:"Action"`
	Status    string `json:"Status,omitempty"`
	Reason    string `json:"Reason,omitempty"`
	RequestID string `json:"RequestID,omitempty"`
	Client    string `json:"Client,omitempty"`
}

// Event converts a decoded payload back into an audit event.
func (p Payload) Event() (audit.Event, error) {
	event := audit.Event{
		Category:  audit.EventCategory(p.Category),
		UserID:    domain.UserID(p.UserID),
		Action:    p.Action,
		Status:    p.Status,
		Reason:    p.Reason,
		RequestID: p.RequestID,
		Client:    p.Client,
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse timestamp: %w", err)
	}
	event.Timestamp = ts
	if p.EventID != "" {
		eventID, err := domain.ParseEventID(p.EventID)
		if err != nil {
			return audit.Event{}, fmt.Errorf("parse event id: %w", err)
		}
		event.EventID = eventID
	}
	return event, nil
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	auditID := uuid.New()

	category := audit.AuditEvent(event.Action).Category()
	payload := Payload{
		ID:        auditID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		UserID:    string(event.UserID),
		Action:    event.Action,
		Status:    event.Status,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Client:    event.Client,
	}

	// Records about one event share a partition key so they stay ordered.
	aggregateType := "audit"
	aggregateID := auditID.String()
	switch {
	case !event.EventID.IsNil():
		payload.EventID = event.EventID.String()
		aggregateType = "event"
		aggregateID = payload.EventID
	case !event.UserID.IsZero():
		aggregateType = "user"
		aggregateID = string(event.UserID)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, topic, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		auditID,
		aggregateType,
		aggregateID,
		event.Action,
		audit.Topic(s.topicPrefix, category),
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an audit event into the audit_events table with a specific ID.
// Used by the Kafka consumer to materialize events for querying.
// This is idempotent - duplicate inserts are ignored via ON CONFLICT DO NOTHING.
func (s *Store) AppendWithID(ctx context.Context, auditID uuid.UUID, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, event_id, user_id, action,
			status, reason, request_id, client
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	var eventID *uuid.UUID
	if !event.EventID.IsNil() {
		eid := uuid.UUID(event.EventID)
		eventID = &eid
	}

	_, err := s.db.ExecContext(ctx, query,
		auditID,
		string(event.Category),
		event.Timestamp,
		eventID,
		string(event.UserID),
		event.Action,
		event.Status,
		event.Reason,
		event.RequestID,
		event.Client,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT category, timestamp, event_id, user_id, action,
		   status, reason, request_id, client
	FROM audit_events
`

// ListByUser returns materialized events for a specific user.
func (s *Store) ListByUser(ctx context.Context, userID domain.UserID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`WHERE user_id = $1 ORDER BY timestamp`, string(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListByEvent returns the materialized audit trail of one relay event.
func (s *Store) ListByEvent(ctx context.Context, eventID domain.EventID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`WHERE event_id = $1 ORDER BY timestamp`, uuid.UUID(eventID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category string
			userID   string
			eventID  *uuid.UUID
			event    audit.Event
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&eventID,
			&userID,
			&event.Action,
			&event.Status,
			&event.Reason,
			&event.RequestID,
			&event.Client,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		event.UserID = domain.UserID(userID)
		if eventID != nil {
			event.EventID = domain.EventID(*eventID)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
