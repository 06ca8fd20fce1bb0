package memory

import (
	"context"
	"slices"
	"sync"

	"relay/pkg/domain"
	audit "relay/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID domain.UserID) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.UserID == userID }), nil
}

func (s *InMemoryStore) ListByEvent(_ context.Context, eventID domain.EventID) ([]audit.Event, error) {
	return s.filter(func(e audit.Event) bool { return e.EventID == eventID }), nil
}

// ListRecent returns the most recent N events across all users, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	all := s.filter(func(audit.Event) bool { return true })
	slices.SortStableFunc(all, func(a, b audit.Event) int { return b.Timestamp.Compare(a.Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Actions returns the recorded actions in append order.
func (s *InMemoryStore) Actions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

func (s *InMemoryStore) filter(keep func(audit.Event) bool) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
