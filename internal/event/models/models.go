// Package models holds the persisted event record and its body contract.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusStarted Status = "STARTED"
	StatusRetry   Status = "RETRY"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// IsTerminal reports whether no further transition may follow.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

func (s Status) IsValid() bool {
	switch s {
	case StatusStarted, StatusRetry, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

const (
	DefaultSuccessMessage = "event completed"
	DefaultFailureMessage = "event failed"
)

// NotificationConfig controls the pushes that follow a terminal write.
type NotificationConfig struct {
	NotifyOnSuccess  bool   `json:"notify_on_success"`
	NotifyOnFailure  bool   `json:"notify_on_failure"`
	SaveNotification bool   `json:"save_notification"`
	SuccessMessage   string `json:"success_message,omitempty"`
	FailureMessage   string `json:"failure_message,omitempty"`
}

// WithDefaults fills empty messages.
func (c NotificationConfig) WithDefaults() NotificationConfig {
	if c.SuccessMessage == "" {
		c.SuccessMessage = DefaultSuccessMessage
	}
	if c.FailureMessage == "" {
		c.FailureMessage = DefaultFailureMessage
	}
	return c
}

// UserRef accepts the target user as a JSON string or number. Producers that
// key users by integer primary keys send numbers.
type UserRef string

func (u *UserRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = UserRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user must be a string or a number")
	}
	*u = UserRef(n.String())
	return nil
}

// Body is the structured event payload.
type Body struct {
	Action       string             `json:"action"`
	Payload      map[string]any     `json:"payload,omitempty"`
	Notification NotificationConfig `json:"notification"`
	User         UserRef            `json:"user,omitempty"`
}

// ParseBody decodes a stored body and applies notification defaults. Action
// membership is checked by the action registry, not here.
func ParseBody(raw []byte) (Body, error) {
	var body Body
	if len(raw) == 0 {
		return body, dErrors.New(dErrors.CodeInvalidInput, "event body is empty")
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, dErrors.Wrap(err, dErrors.CodeInvalidInput, "event body is not valid json")
	}
	if body.Action == "" {
		return body, dErrors.New(dErrors.CodeInvalidInput, "event body requires action")
	}
	body.Notification = body.Notification.WithDefaults()
	return body, nil
}

// Event is one unit of requested work and its lifecycle status.
type Event struct {
	ID        domain.EventID
	UserID    domain.UserID // empty once the owner is deleted
	Status    Status
	Body      json.RawMessage
	Message   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEvent builds a STARTED event.
func NewEvent(id domain.EventID, userID domain.UserID, body json.RawMessage, now time.Time) (*Event, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event id required")
	}
	if _, err := ParseBody(body); err != nil {
		return nil, err
	}
	return &Event{
		ID:        id,
		UserID:    userID,
		Status:    StatusStarted,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// HasOwner reports whether notifications can be addressed to a user.
func (e *Event) HasOwner() bool {
	return !e.UserID.IsZero()
}
