//go:build integration

package broadcast_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"relay/internal/broadcast"
	"relay/pkg/testutil/containers"
)

type RedisBrokerSuite struct {
	suite.Suite
	broker *broadcast.RedisBroker
}

func TestRedisBrokerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisBrokerSuite))
}

func (s *RedisBrokerSuite) SetupSuite() {
	rc := containers.GetManager().GetRedis(s.T())
	s.broker = broadcast.NewRedisBroker(rc.Client, slog.New(slog.DiscardHandler))
}

func (s *RedisBrokerSuite) TestGroupIsolation() {
	ctx := context.Background()
	a, err := s.broker.Subscribe(ctx, "u1_group")
	s.Require().NoError(err)
	defer a.Close()
	b, err := s.broker.Subscribe(ctx, "u1_group")
	s.Require().NoError(err)
	defer b.Close()
	other, err := s.broker.Subscribe(ctx, "u2_group")
	s.Require().NoError(err)
	defer other.Close()

	msg := broadcast.NewNotification(map[string]any{"status": "SUCCESS", "message": "event completed"})
	s.Require().NoError(s.broker.Publish(ctx, "u1_group", msg))

	for _, sub := range []broadcast.Subscription{a, b} {
		select {
		case got := <-sub.Messages():
			s.Equal("u1_group", got.Group)
			s.Equal("event completed", got.Data["message"])
		case <-time.After(5 * time.Second):
			s.Fail("timed out waiting for redis message")
		}
	}
	select {
	case got := <-other.Messages():
		s.Failf("unexpected message", "%+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func (s *RedisBrokerSuite) TestCloseIsIdempotent() {
	sub, err := s.broker.Subscribe(context.Background(), "u3_group")
	s.Require().NoError(err)
	s.NoError(sub.Close())
	s.NoError(sub.Close())
}
