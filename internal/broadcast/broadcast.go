// Package broadcast is the notification channel: per-user groups on a
// publish/subscribe broker with a compact MessagePack wire format.
package broadcast

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
)

// Message types pushed to sessions.
const (
	TypeSendNotification = "send_notification"
	TypeExitSignal       = "send_exit_signal"
)

const groupSuffix = "_group"

// Message is a notification addressed to a group. Group travels inside the
// encoded payload so transports can route without a side channel.
type Message struct {
	Group string         `msgpack:"__group__" json:"-"`
	Type  string         `msgpack:"type" json:"type"`
	Data  map[string]any `msgpack:"data" json:"data"`
}

// NewNotification builds a send_notification message.
func NewNotification(data map[string]any) Message {
	return Message{Type: TypeSendNotification, Data: data}
}

// ExitSignal builds the message that makes sessions close their connection.
func ExitSignal() Message {
	return Message{Type: TypeExitSignal, Data: map[string]any{}}
}

// GroupKey derives the group of userID. The user id must pass the
// routing-safe alphabet check so it cannot address another group or inject
// broker wildcards.
func GroupKey(userID domain.UserID) (string, error) {
	parsed, err := domain.ParseUserID(userID.String())
	if err != nil {
		return "", err
	}
	return parsed.String() + groupSuffix, nil
}

// Encode packs msg for the wire.
func Encode(msg Message) ([]byte, error) {
	b, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode broadcast message: %w", err)
	}
	return b, nil
}

// Decode unpacks a wire message.
func Decode(b []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(b, &msg); err != nil {
		return Message{}, fmt.Errorf("decode broadcast message: %w", err)
	}
	if msg.Group == "" || msg.Type == "" {
		return Message{}, fmt.Errorf("decode broadcast message: missing group or type")
	}
	return msg, nil
}

// Publisher sends one message to every current subscriber of a group.
// Delivery is at most once per call; errors are returned to the caller.
type Publisher interface {
	Publish(ctx context.Context, group string, msg Message) error
}

// Subscription is a live group membership. Close leaves the group and
// closes Messages; calling it again is a no-op.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, group string) (Subscription, error)
}

// Broker is both sides of the channel.
type Broker interface {
	Publisher
	Subscriber
}

// subject is the broker routing key for a group.
func subject(group string) string {
	return "groups." + group
}

func validateGroup(group string) error {
	if len(group) <= len(groupSuffix) || group[len(group)-len(groupSuffix):] != groupSuffix {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid group key")
	}
	if _, err := domain.ParseUserID(group[:len(group)-len(groupSuffix)]); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid group key")
	}
	return nil
}

// prepare stamps the group and returns the encoded payload.
func prepare(group string, msg Message) ([]byte, error) {
	if err := validateGroup(group); err != nil {
		return nil, err
	}
	msg.Group = group
	return Encode(msg)
}
