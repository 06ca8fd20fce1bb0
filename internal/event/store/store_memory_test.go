package store

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"relay/internal/event/models"
	"relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) newEvent(userID domain.UserID, at time.Time) *models.Event {
	ev, err := models.NewEvent(domain.NewEventID(), userID, json.RawMessage(`{"action":"notify_user"}`), at)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, ev))
	return ev
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	ev := s.newEvent("u1", time.Now())

	got, err := s.store.FindByID(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusStarted, got.Status)
	s.Equal(domain.UserID("u1"), got.UserID)

	s.ErrorIs(s.store.Create(s.ctx, ev), sentinel.ErrConflict)

	_, err = s.store.FindByID(s.ctx, domain.NewEventID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestComplete() {
	created := time.Now().Add(-time.Minute)
	ev := s.newEvent("u1", created)

	s.Run("first terminal write wins", func() {
		at := time.Now()
		s.Require().NoError(s.store.Complete(s.ctx, ev.ID, models.StatusSuccess, "event completed", at))
		got, err := s.store.FindByID(s.ctx, ev.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusSuccess, got.Status)
		s.Equal("event completed", got.Message)
		s.Equal(at, got.UpdatedAt)
		s.Equal(created, got.CreatedAt)
	})

	s.Run("second terminal write is rejected", func() {
		err := s.store.Complete(s.ctx, ev.ID, models.StatusFailure, "x", time.Now())
		s.ErrorIs(err, sentinel.ErrInvalidState)
		got, _ := s.store.FindByID(s.ctx, ev.ID)
		s.Equal(models.StatusSuccess, got.Status)
	})

	s.Run("missing event", func() {
		err := s.store.Complete(s.ctx, domain.NewEventID(), models.StatusFailure, "x", time.Now())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("non terminal status", func() {
		other := s.newEvent("u1", time.Now())
		err := s.store.Complete(s.ctx, other.ID, models.StatusRetry, "x", time.Now())
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentCompleteHasOneWinner() {
	ev := s.newEvent("u1", time.Now())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := models.StatusSuccess
			if i%2 == 0 {
				status = models.StatusFailure
			}
			if s.store.Complete(s.ctx, ev.ID, status, "m", time.Now()) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func (s *InMemoryStoreSuite) TestListByUserAndClearOwner() {
	base := time.Now()
	older := s.newEvent("u1", base.Add(-time.Hour))
	newer := s.newEvent("u1", base)
	s.newEvent("u2", base)

	list, err := s.store.ListByUser(s.ctx, "u1", 10)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(newer.ID, list[0].ID)
	s.Equal(older.ID, list[1].ID)

	limited, err := s.store.ListByUser(s.ctx, "u1", 1)
	s.Require().NoError(err)
	s.Len(limited, 1)

	n, err := s.store.ClearOwner(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal(2, n)

	got, err := s.store.FindByID(s.ctx, older.ID)
	s.Require().NoError(err)
	s.Empty(got.UserID)
	s.False(got.HasOwner())
}
