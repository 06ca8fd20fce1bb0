package realtime

import (
	"context"
	"errors"
	"fmt"
)

const (
	TypePong  = "pong"
	TypeError = "error"
)

// DefaultActions answers "ping" and reports unsupported actions back to the
// client instead of dropping them.
type DefaultActions struct{}

func (DefaultActions) HandleAction(_ context.Context, s *Session, frame ClientFrame) error {
	switch frame.Action {
	case "ping":
		return s.Send(ServerFrame{Type: TypePong, Data: frame.Payload})
	default:
		msg := fmt.Sprintf("unsupported action %q", frame.Action)
		if err := s.Send(ServerFrame{Type: TypeError, Data: map[string]any{"message": msg}}); err != nil {
			return err
		}
		return errors.New(msg)
	}
}
