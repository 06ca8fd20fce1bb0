//go:build integration

package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"relay/internal/ratelimit"
	"relay/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *ratelimit.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.store = ratelimit.NewRedisStore(s.redis.Client, "relay-test:rl")
}

func (s *RedisStoreSuite) TestLimitSharedAcrossStores() {
	ctx := context.Background()
	other := ratelimit.NewRedisStore(s.redis.Client, "relay-test:rl")

	res, err := s.store.Allow(ctx, "publish:10.0.0.1", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(1, res.Remaining)

	res, err = other.Allow(ctx, "publish:10.0.0.1", 2, time.Minute)
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(0, res.Remaining)

	res, err = s.store.Allow(ctx, "publish:10.0.0.1", 2, time.Minute)
	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Positive(res.RetryAfter)
}

func (s *RedisStoreSuite) TestWindowExpires() {
	ctx := context.Background()

	res, err := s.store.Allow(ctx, "ws:10.0.0.2", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.True(res.Allowed)

	res, err = s.store.Allow(ctx, "ws:10.0.0.2", 1, 200*time.Millisecond)
	s.Require().NoError(err)
	s.False(res.Allowed)

	s.Eventually(func() bool {
		res, err := s.store.Allow(ctx, "ws:10.0.0.2", 1, 200*time.Millisecond)
		return err == nil && res.Allowed
	}, 2*time.Second, 50*time.Millisecond)
}
