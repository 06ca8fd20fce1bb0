package inbox

import (
	"context"
	"sync"

	"relay/pkg/domain"
)

type InMemoryStore struct {
	mu            sync.RWMutex
	notifications map[domain.UserID][]Notification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{notifications: make(map[domain.UserID][]Notification)}
}

func (s *InMemoryStore) Save(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.UserID] = append(s.notifications[n.UserID], n)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID domain.UserID, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.notifications[userID]
	out := make([]Notification, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
