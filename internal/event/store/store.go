// Package store persists event records. Stores are pure I/O; the dispatch
// engine owns the lifecycle rules.
package store

import (
	"context"
	"time"

	"relay/internal/event/models"
	"relay/pkg/domain"
)

// Store is the Event Record Store.
type Store interface {
	Create(ctx context.Context, event *models.Event) error
	FindByID(ctx context.Context, id domain.EventID) (*models.Event, error)
	// Complete writes a terminal status only if the event is not terminal
	// yet. Returns sentinel.ErrInvalidState when another writer won and
	// sentinel.ErrNotFound when the record is gone.
	Complete(ctx context.Context, id domain.EventID, status models.Status, message string, at time.Time) error
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*models.Event, error)
	// ClearOwner detaches a deleted user's events; the events survive.
	ClearOwner(ctx context.Context, userID domain.UserID) (int, error)
}
