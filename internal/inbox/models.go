// Package inbox stores the optional persisted echo of pushed notifications.
package inbox

import (
	"time"

	"relay/pkg/domain"
)

// Notification is a UserNotification: written once, never mutated.
type Notification struct {
	ID        domain.NotificationID `json:"id"`
	UserID    domain.UserID         `json:"user_id"`
	Body      map[string]any        `json:"body"`
	Timestamp time.Time             `json:"timestamp"`
}

func NewNotification(userID domain.UserID, body map[string]any, now time.Time) Notification {
	return Notification{
		ID:        domain.NewNotificationID(),
		UserID:    userID,
		Body:      body,
		Timestamp: now,
	}
}
