package inbox

import (
	"context"

	"relay/pkg/domain"
)

type Store interface {
	Save(ctx context.Context, n Notification) error
	// ListByUser returns newest first.
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]Notification, error)
}
