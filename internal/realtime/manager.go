package realtime

import (
	"context"
	"fmt"
	"sync"

	"relay/internal/broadcast"
	"relay/pkg/domain"
)

// Manager tracks live sessions of this process.
type Manager struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[*Session]struct{})}
}

func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s] = struct{}{}
}

func (m *Manager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s)
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll disconnects every tracked session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		sessions = append(sessions, s)
	}
	clear(m.sessions)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}

// ShutdownGroup broadcasts the exit signal to every session of userID in
// every process sharing the broker.
func ShutdownGroup(ctx context.Context, publisher broadcast.Publisher, userID domain.UserID) error {
	group, err := broadcast.GroupKey(userID)
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, group, broadcast.ExitSignal()); err != nil {
		return fmt.Errorf("send exit signal to %s: %w", group, err)
	}
	return nil
}
