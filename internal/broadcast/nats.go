package broadcast

import (
	"context"
	"fmt"
	"log/slog"

	natspkg "github.com/nats-io/nats.go"
)

// NATSBroker fans messages out over NATS subjects named groups.{group}.
type NATSBroker struct {
	conn   *natspkg.Conn
	logger *slog.Logger
}

func NewNATSBroker(conn *natspkg.Conn, logger *slog.Logger) *NATSBroker {
	return &NATSBroker{conn: conn, logger: logger}
}

func (b *NATSBroker) Publish(ctx context.Context, group string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := prepare(group, msg)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject(group), payload); err != nil {
		return fmt.Errorf("nats publish to %s: %w", group, err)
	}
	return nil
}

func (b *NATSBroker) Subscribe(ctx context.Context, group string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateGroup(group); err != nil {
		return nil, err
	}

	var natsSub *natspkg.Subscription
	sub := newSubscription(func() error {
		if natsSub == nil {
			return nil
		}
		return natsSub.Unsubscribe()
	})
	natsSub, err := b.conn.Subscribe(subject(group), func(m *natspkg.Msg) {
		msg, err := Decode(m.Data)
		if err != nil {
			b.logger.Warn("dropping undecodable broadcast message", "group", group, "error", err)
			return
		}
		if !sub.deliver(msg) {
			b.logger.Warn("subscriber backlog full, dropping message", "group", group)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe to %s: %w", group, err)
	}
	// make sure the server registered interest before returning
	if err := b.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("nats subscribe flush: %w", err)
	}
	return sub, nil
}
