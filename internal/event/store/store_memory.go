package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"relay/internal/event/models"
	"relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

// InMemoryStore keeps events in a map. Used for single-process deployments
// and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.EventID]*models.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.EventID]*models.Event)}
}

func (s *InMemoryStore) Create(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return fmt.Errorf("event %s: %w", event.ID, sentinel.ErrConflict)
	}
	cp := *event
	s.events[event.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.EventID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *ev
	return &cp, nil
}

func (s *InMemoryStore) Complete(_ context.Context, id domain.EventID, status models.Status, message string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("complete with %s: %w", status, sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, sentinel.ErrNotFound)
	}
	if ev.Status.IsTerminal() {
		return fmt.Errorf("event %s already %s: %w", id, ev.Status, sentinel.ErrInvalidState)
	}
	ev.Status = status
	ev.Message = message
	ev.UpdatedAt = at
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID domain.UserID, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Event
	for _, ev := range s.events {
		if ev.UserID == userID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Event) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ClearOwner(_ context.Context, userID domain.UserID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.UserID == userID {
			ev.UserID = ""
			n++
		}
	}
	return n, nil
}
