package dispatch

//go:generate mockgen -source=engine.go -destination=mocks/mocks.go -package=mocks EventStore,ActionResolver,AuditPublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"relay/internal/action"
	"relay/internal/broadcast"
	"relay/internal/dispatch/mocks"
	"relay/internal/event/models"
	eventstore "relay/internal/event/store"
	"relay/internal/inbox"
	"relay/internal/queue"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/audit"
	"relay/pkg/platform/audit/publisher"
	auditmemory "relay/pkg/platform/audit/store/memory"
	"relay/pkg/platform/sentinel"
)

// =============================================================================
// Test doubles
// =============================================================================

// ProviderTimeout stands in for a provider client error type.
type ProviderTimeout struct{ Detail string }

func (e *ProviderTimeout) Error() string { return e.Detail }

type scheduled struct {
	job queue.Job
	at  time.Time
}

// recordingQueue captures jobs so tests drive each attempt explicitly.
type recordingQueue struct {
	mu          sync.Mutex
	enqueued    []queue.Job
	scheduled   []scheduled
	scheduleErr error
}

func (q *recordingQueue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *recordingQueue) Schedule(_ context.Context, job queue.Job, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.scheduleErr != nil {
		return q.scheduleErr
	}
	q.scheduled = append(q.scheduled, scheduled{job: job, at: at})
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (queue.Job, error) {
	<-ctx.Done()
	return queue.Job{}, ctx.Err()
}

// popScheduled returns the oldest scheduled retry.
func (q *recordingQueue) popScheduled() (scheduled, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.scheduled) == 0 {
		return scheduled{}, false
	}
	s := q.scheduled[0]
	q.scheduled = q.scheduled[1:]
	return s, true
}

type countingHandler struct {
	mu       sync.Mutex
	calls    int
	attempts []int
	err      error
}

func (h *countingHandler) Execute(_ context.Context, inv action.Invocation) (action.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	h.attempts = append(h.attempts, inv.Attempt)
	return action.Result{Detail: "ok"}, h.err
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, broadcast.Message) error {
	p.calls++
	return fmt.Errorf("publish: %w", sentinel.ErrUnavailable)
}

// =============================================================================
// Engine Test Suite
// =============================================================================
// Justification for unit tests: the engine owns the lifecycle rules (retry
// bound, single terminal write, notification gating). In-memory stores keep
// every attempt observable and deterministic.

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	clock   time.Time
	events  *eventstore.InMemoryStore
	queue   *recordingQueue
	hub     *broadcast.MemoryHub
	inbox   *inbox.InMemoryStore
	audits  *auditmemory.InMemoryStore
	handler *countingHandler
	engine  *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.events = eventstore.NewInMemoryStore()
	s.queue = &recordingQueue{}
	s.hub = broadcast.NewMemoryHub()
	s.inbox = inbox.NewInMemoryStore()
	s.audits = auditmemory.NewInMemoryStore()
	s.handler = &countingHandler{}
	s.engine = s.newEngine(s.hub, action.NewRegistry(s.handler, s.handler, s.handler))
}

func (s *EngineSuite) newEngine(pub broadcast.Publisher, resolver ActionResolver) *Engine {
	engine, err := New(s.events, resolver, s.queue, pub,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithInbox(s.inbox),
		WithAuditPublisher(publisher.NewPublisher(s.audits)),
		WithClock(func() time.Time { return s.clock }),
	)
	s.Require().NoError(err)
	return engine
}

func (s *EngineSuite) createEvent(owner domain.UserID, body map[string]any) domain.EventID {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	event, err := models.NewEvent(domain.NewEventID(), owner, raw, s.clock)
	s.Require().NoError(err)
	s.Require().NoError(s.events.Create(s.ctx, event))
	return event.ID
}

func (s *EngineSuite) subscribe(group string) broadcast.Subscription {
	sub, err := s.hub.Subscribe(s.ctx, group)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = sub.Close() })
	return sub
}

func (s *EngineSuite) receive(sub broadcast.Subscription) broadcast.Message {
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		s.FailNow("no message received")
		return broadcast.Message{}
	}
}

func (s *EngineSuite) assertSilent(sub broadcast.Subscription) {
	select {
	case msg := <-sub.Messages():
		s.Failf("unexpected message", "%+v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

// runToCompletion handles the first job and every retry it schedules.
func (s *EngineSuite) runToCompletion(eventID domain.EventID) {
	s.Require().NoError(s.engine.Enqueue(s.ctx, eventID))
	s.Require().Len(s.queue.enqueued, 1)
	s.Require().NoError(s.engine.Handle(s.ctx, s.queue.enqueued[0]))
	for {
		next, ok := s.queue.popScheduled()
		if !ok {
			return
		}
		s.clock = next.at
		s.Require().NoError(s.engine.Handle(s.ctx, next.job))
	}
}

func (s *EngineSuite) status(eventID domain.EventID) *models.Event {
	event, err := s.events.FindByID(s.ctx, eventID)
	s.Require().NoError(err)
	return event
}

// =============================================================================
// Constructor
// =============================================================================

func (s *EngineSuite) TestNew() {
	s.Run("missing dependencies are rejected", func() {
		_, err := New(nil, action.NewRegistry(nil, nil, nil), s.queue, s.hub)
		s.ErrorContains(err, "event store is required")
		_, err = New(s.events, nil, s.queue, s.hub)
		s.ErrorContains(err, "action resolver is required")
		_, err = New(s.events, action.NewRegistry(nil, nil, nil), nil, s.hub)
		s.ErrorContains(err, "queue is required")
		_, err = New(s.events, action.NewRegistry(nil, nil, nil), s.queue, nil)
		s.ErrorContains(err, "notification publisher is required")
	})
}

// =============================================================================
// Scenarios
// =============================================================================

func (s *EngineSuite) TestSuccessNotifiesOwner() {
	realHandler := action.NewNotifyUserHandler(s.inbox, s.hub, slog.New(slog.DiscardHandler))
	s.engine = s.newEngine(s.hub, action.NewRegistry(realHandler, s.handler, s.handler))
	sub := s.subscribe("u1_group")

	eventID := s.createEvent("u1", map[string]any{
		"action":       "notify_user",
		"payload":      map[string]any{"message": "hi"},
		"notification": map[string]any{"notify_on_success": true},
		"user":         "u1",
	})
	s.runToCompletion(eventID)

	event := s.status(eventID)
	s.Equal(models.StatusSuccess, event.Status)
	s.Equal("event completed", event.Message)

	pushed := s.receive(sub)
	s.Equal(broadcast.TypeSendNotification, pushed.Type)
	s.Equal("hi", pushed.Data["message"])

	status := s.receive(sub)
	s.Equal(map[string]any{"status": "SUCCESS", "message": "event completed"}, status.Data)

	s.Equal([]string{
		string(audit.EventAccepted),
		string(audit.EventSucceeded),
		string(audit.EventNotificationPublished),
	}, s.audits.Actions())
}

func (s *EngineSuite) TestUnknownActionRejectedBeforeScheduling() {
	eventID := s.createEvent("u1", map[string]any{"action": "unknown_action", "payload": map[string]any{}})

	err := s.engine.Enqueue(s.ctx, eventID)
	s.Require().Error(err)
	s.ErrorIs(err, action.ErrUnknownAction)
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))

	var unknown *action.UnknownActionError
	s.Require().ErrorAs(err, &unknown)
	s.Equal("unknown_action", unknown.Name)

	s.Empty(s.queue.enqueued)
	s.Empty(s.queue.scheduled)
	s.Equal(models.StatusStarted, s.status(eventID).Status)
	s.Equal([]string{string(audit.EventRejected)}, s.audits.Actions())
}

func (s *EngineSuite) TestRetriesExhaustedRecordsFailure() {
	s.handler.err = &ProviderTimeout{Detail: "upstream timed out"}
	eventID := s.createEvent("u1", map[string]any{"action": "send_sms", "payload": map[string]any{}})

	s.runToCompletion(eventID)

	s.Equal(4, s.handler.calls, "max_retries + 1 invocations")
	s.Equal([]int{0, 1, 2, 3}, s.handler.attempts)
	event := s.status(eventID)
	s.Equal(models.StatusFailure, event.Status)
	s.Equal("ProviderTimeout: upstream timed out", event.Message)
}

func (s *EngineSuite) TestFailureNotificationMessage() {
	s.handler.err = &ProviderTimeout{Detail: "upstream timed out"}
	sub := s.subscribe("u1_group")
	eventID := s.createEvent("u1", map[string]any{
		"action":  "send_mail",
		"payload": map[string]any{},
		"notification": map[string]any{
			"notify_on_failure": true,
			"failure_message":   "alert failed",
			"save_notification": true,
		},
	})

	s.runToCompletion(eventID)

	msg := s.receive(sub)
	s.Equal("FAILURE", msg.Data["status"])
	s.Equal("alert failed failed after 3 retries due to: ProviderTimeout - upstream timed out", msg.Data["message"])

	saved, err := s.inbox.ListByUser(s.ctx, "u1", 10)
	s.Require().NoError(err)
	s.Require().Len(saved, 1)
	s.Equal(msg.Data["message"], saved[0].Body["message"])
}

// =============================================================================
// Properties
// =============================================================================

func (s *EngineSuite) TestRetryScheduleUsesBackoff() {
	s.handler.err = errors.New("boom")
	eventID := s.createEvent("", map[string]any{"action": "send_sms", "payload": map[string]any{}})
	s.Require().NoError(s.engine.Enqueue(s.ctx, eventID))
	s.Require().NoError(s.engine.Handle(s.ctx, s.queue.enqueued[0]))

	start := s.clock
	var delays []time.Duration
	for {
		next, ok := s.queue.popScheduled()
		if !ok {
			break
		}
		delays = append(delays, next.at.Sub(s.clock))
		s.Equal(len(delays), next.job.Attempt)
		s.clock = next.at
		s.Require().NoError(s.engine.Handle(s.ctx, next.job))
	}
	s.Equal([]time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, delays)
	s.Equal(35*time.Second, s.clock.Sub(start))
	s.Equal("Error: boom", s.status(eventID).Message)
}

func (s *EngineSuite) TestNotificationGating() {
	cases := []struct {
		name    string
		owner   domain.UserID
		fail    bool
		config  map[string]any
		expects bool
	}{
		{"success without flag", "u1", false, map[string]any{}, false},
		{"success with flag", "u1", false, map[string]any{"notify_on_success": true}, true},
		{"failure flag ignored on success", "u1", false, map[string]any{"notify_on_failure": true}, false},
		{"failure with flag", "u1", true, map[string]any{"notify_on_failure": true}, true},
		{"success flag ignored on failure", "u1", true, map[string]any{"notify_on_success": true}, false},
		{"no owner", "", false, map[string]any{"notify_on_success": true}, false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.SetupTest()
			if tc.fail {
				s.handler.err = errors.New("boom")
			}
			sub := s.subscribe("u1_group")
			eventID := s.createEvent(tc.owner, map[string]any{
				"action":       "send_sms",
				"payload":      map[string]any{},
				"notification": tc.config,
			})
			s.runToCompletion(eventID)
			if tc.expects {
				s.receive(sub)
			} else {
				s.assertSilent(sub)
			}
		})
	}
}

func (s *EngineSuite) TestTerminalWriteHappensOnce() {
	sub := s.subscribe("u1_group")
	eventID := s.createEvent("u1", map[string]any{
		"action":       "send_sms",
		"payload":      map[string]any{},
		"notification": map[string]any{"notify_on_success": true},
	})
	s.Require().NoError(s.engine.Enqueue(s.ctx, eventID))
	s.Require().NoError(s.engine.Enqueue(s.ctx, eventID))
	s.Require().Len(s.queue.enqueued, 2)

	var wg sync.WaitGroup
	for _, job := range s.queue.enqueued {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(s.engine.Handle(s.ctx, job))
		}()
	}
	wg.Wait()

	s.Equal(models.StatusSuccess, s.status(eventID).Status)
	s.receive(sub)
	s.assertSilent(sub)

	succeeded := 0
	for _, a := range s.audits.Actions() {
		if a == string(audit.EventSucceeded) {
			succeeded++
		}
	}
	s.Equal(1, succeeded)
}

func (s *EngineSuite) TestTerminalEventIsSkipped() {
	eventID := s.createEvent("u1", map[string]any{"action": "send_sms", "payload": map[string]any{}})
	s.Require().NoError(s.events.Complete(s.ctx, eventID, models.StatusSuccess, "done", s.clock))

	s.Require().NoError(s.engine.Handle(s.ctx, queue.Job{EventID: eventID}))
	s.Zero(s.handler.calls)
}

func (s *EngineSuite) TestPublishFailureDoesNotRetry() {
	pub := &failingPublisher{}
	s.engine = s.newEngine(pub, action.NewRegistry(s.handler, s.handler, s.handler))
	eventID := s.createEvent("u1", map[string]any{
		"action":       "send_sms",
		"payload":      map[string]any{},
		"notification": map[string]any{"notify_on_success": true},
	})

	s.runToCompletion(eventID)

	s.Equal(1, s.handler.calls)
	s.Equal(1, pub.calls)
	s.Equal(models.StatusSuccess, s.status(eventID).Status)
	s.Contains(s.audits.Actions(), string(audit.EventNotificationFailed))
}

func (s *EngineSuite) TestScheduleFailureFailsEvent() {
	s.handler.err = errors.New("boom")
	s.queue.scheduleErr = sentinel.ErrUnavailable
	eventID := s.createEvent("u1", map[string]any{"action": "send_sms", "payload": map[string]any{}})

	s.runToCompletion(eventID)

	s.Equal(1, s.handler.calls)
	s.Equal(models.StatusFailure, s.status(eventID).Status)
}

// =============================================================================
// Store edge cases (mocked)
// =============================================================================

func (s *EngineSuite) TestStoreEdgeCases() {
	ctrl := gomock.NewController(s.T())
	defer ctrl.Finish()
	store := mocks.NewMockEventStore(ctrl)
	resolver := mocks.NewMockActionResolver(ctrl)
	auditPub := mocks.NewMockAuditPublisher(ctrl)

	engine, err := New(store, resolver, s.queue, s.hub,
		WithLogger(slog.New(slog.DiscardHandler)),
		WithAuditPublisher(auditPub),
	)
	s.Require().NoError(err)

	body := json.RawMessage(`{"action":"send_sms","payload":{},"notification":{"notify_on_success":true}}`)
	event := &models.Event{ID: domain.NewEventID(), UserID: "u1", Status: models.StatusStarted, Body: body}

	s.Run("missing event at handle time is dropped", func() {
		store.EXPECT().FindByID(gomock.Any(), event.ID).Return(nil, sentinel.ErrNotFound)
		s.NoError(engine.Handle(s.ctx, queue.Job{EventID: event.ID}))
	})

	s.Run("store outage at handle time is reported", func() {
		store.EXPECT().FindByID(gomock.Any(), event.ID).Return(nil, errors.New("connection reset"))
		s.Error(engine.Handle(s.ctx, queue.Job{EventID: event.ID}))
	})

	s.Run("event deleted before terminal write is logged", func() {
		sub := s.subscribe("u1_group")
		store.EXPECT().FindByID(gomock.Any(), event.ID).Return(event, nil)
		resolver.EXPECT().Resolve("send_sms").Return(s.handler, nil)
		store.EXPECT().Complete(gomock.Any(), event.ID, models.StatusSuccess, "event completed", gomock.Any()).
			Return(fmt.Errorf("event %s: %w", event.ID, sentinel.ErrNotFound))
		s.NoError(engine.Handle(s.ctx, queue.Job{EventID: event.ID}))
		s.assertSilent(sub)
	})

	s.Run("unknown action at handle time is not retried", func() {
		store.EXPECT().FindByID(gomock.Any(), event.ID).Return(event, nil)
		resolver.EXPECT().Resolve("send_sms").Return(nil, &action.UnknownActionError{Name: "send_sms"})
		auditPub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Event) error {
			s.Equal(string(audit.EventRejected), e.Action)
			s.Equal(event.ID, e.EventID)
			return nil
		})
		before := len(s.queue.scheduled)
		s.NoError(engine.Handle(s.ctx, queue.Job{EventID: event.ID}))
		s.Len(s.queue.scheduled, before)
	})

	s.Run("enqueue of missing event is not found", func() {
		store.EXPECT().FindByID(gomock.Any(), event.ID).Return(nil, sentinel.ErrNotFound)
		err := engine.Enqueue(s.ctx, event.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
