package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans messages out over Redis pub/sub channels named
// groups.{group}.
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBroker(client *redis.Client, logger *slog.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

func (b *RedisBroker) Publish(ctx context.Context, group string, msg Message) error {
	payload, err := prepare(group, msg)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, subject(group), payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", group, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, group string) (Subscription, error) {
	if err := validateGroup(group); err != nil {
		return nil, err
	}
	ps := b.client.Subscribe(ctx, subject(group))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe to %s: %w", group, err)
	}

	done := make(chan struct{})
	sub := newSubscription(func() error {
		err := ps.Close()
		<-done
		return err
	})
	go func() {
		defer close(done)
		for raw := range ps.Channel() {
			msg, err := Decode([]byte(raw.Payload))
			if err != nil {
				b.logger.Warn("dropping undecodable broadcast message", "group", group, "error", err)
				continue
			}
			if !sub.deliver(msg) {
				b.logger.Warn("subscriber backlog full, dropping message", "group", group)
			}
		}
	}()
	return sub, nil
}
