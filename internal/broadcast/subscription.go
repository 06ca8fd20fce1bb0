package broadcast

import "sync"

// subscriptionBuffer bounds per-session backlog; a session that cannot keep
// up loses pushes rather than stalling the broker.
const subscriptionBuffer = 64

type subscription struct {
	ch     chan Message
	mu     sync.Mutex
	closed bool
	once   sync.Once
	stop   func() error
}

func newSubscription(stop func() error) *subscription {
	return &subscription{ch: make(chan Message, subscriptionBuffer), stop: stop}
}

func (s *subscription) Messages() <-chan Message {
	return s.ch
}

// deliver reports false when the message was dropped.
func (s *subscription) deliver(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		if s.stop != nil {
			err = s.stop()
		}
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return err
}
