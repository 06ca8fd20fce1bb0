package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "relay/pkg/domain-errors"
)

// EventID identifies one published event for its whole lifecycle.
type EventID uuid.UUID

// NotificationID identifies a persisted inbox notification.
type NotificationID uuid.UUID

// UserID identifies the owner of events and real-time sessions. User ids are
// opaque strings owned by the account system; they are restricted to a safe
// alphabet because they become broker routing keys.
type UserID string

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

func NewEventID() EventID { return EventID(uuid.New()) }

func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }

func (id EventID) String() string { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText encodes the id as its canonical UUID string in JSON.
func (id EventID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id NotificationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *NotificationID) UnmarshalText(b []byte) error {
	parsed, err := ParseNotificationID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id NotificationID) String() string { return uuid.UUID(id).String() }

func (id UserID) String() string { return string(id) }

func (id UserID) IsZero() bool { return id == "" }

// ParseEventID parses a non-nil UUID.
func ParseEventID(s string) (EventID, error) {
	parsed, err := parseUUID(s, "event id")
	return EventID(parsed), err
}

// ParseNotificationID parses a non-nil UUID.
func ParseNotificationID(s string) (NotificationID, error) {
	parsed, err := parseUUID(s, "notification id")
	return NotificationID(parsed), err
}

// ParseUserID validates a user id against the routing-safe alphabet.
func ParseUserID(s string) (UserID, error) {
	if strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if !userIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id contains unsupported characters")
	}
	return UserID(s), nil
}

func parseUUID(s, name string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+name)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, name+" cannot be nil")
	}
	return parsed, nil
}
