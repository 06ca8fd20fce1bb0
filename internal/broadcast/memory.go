package broadcast

import (
	"context"
	"sync"
)

// MemoryHub is an in-process broker for single-process deployments and
// tests. Messages go through the wire codec like on a real broker.
type MemoryHub struct {
	mu     sync.RWMutex
	groups map[string]map[*subscription]struct{}
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{groups: make(map[string]map[*subscription]struct{})}
}

func (h *MemoryHub) Publish(ctx context.Context, group string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := prepare(group, msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.groups[group]))
	for sub := range h.groups[group] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		decoded, err := Decode(payload)
		if err != nil {
			return err
		}
		sub.deliver(decoded)
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, group string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateGroup(group); err != nil {
		return nil, err
	}
	var sub *subscription
	sub = newSubscription(func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if members, ok := h.groups[group]; ok {
			delete(members, sub)
			if len(members) == 0 {
				delete(h.groups, group)
			}
		}
		return nil
	})

	h.mu.Lock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[*subscription]struct{})
	}
	h.groups[group][sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

// Members returns the number of live subscriptions in group.
func (h *MemoryHub) Members(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
