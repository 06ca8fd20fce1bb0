// Package service accepts published events and answers status lookups.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"relay/internal/action"
	"relay/internal/event/models"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/sentinel"
)

// Store is the slice of the event record store the service needs.
type Store interface {
	Create(ctx context.Context, event *models.Event) error
	FindByID(ctx context.Context, id domain.EventID) (*models.Event, error)
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*models.Event, error)
}

// Enqueuer hands a persisted event to the dispatch engine.
type Enqueuer interface {
	Enqueue(ctx context.Context, eventID domain.EventID) error
}

// PublishRequest is the body of POST /v1/publish.
type PublishRequest struct {
	Action       string                     `json:"action"`
	Payload      json.RawMessage            `json:"payload"`
	Notification *models.NotificationConfig `json:"notification,omitempty"`
	User         models.UserRef             `json:"user"`
	Timestamp    *time.Time                 `json:"timestamp,omitempty"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Service struct {
	store    Store
	enqueuer Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(store Store, enqueuer Enqueuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if enqueuer == nil {
		return nil, errors.New("enqueuer is required")
	}
	s := &Service{
		store:    store,
		enqueuer: enqueuer,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Validate checks a publish request without side effects and returns the
// owning user.
func (r PublishRequest) Validate() (domain.UserID, error) {
	if _, err := action.ParseAction(r.Action); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInvalidInput, "action must be one of notify_user, send_mail, send_sms")
	}
	payload := bytes.TrimSpace(r.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "payload is required")
	}
	if payload[0] != '{' {
		return "", dErrors.New(dErrors.CodeInvalidInput, "payload must be an object")
	}
	userID, err := domain.ParseUserID(string(r.User))
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Publish persists a STARTED event for the request and enqueues its first
// attempt. The stored body is the request as received.
func (s *Service) Publish(ctx context.Context, raw []byte) (*models.Event, error) {
	var req PublishRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid json body")
	}
	userID, err := req.Validate()
	if err != nil {
		return nil, err
	}

	event, err := models.NewEvent(domain.NewEventID(), userID, json.RawMessage(raw), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, event); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save event")
	}
	if err := s.enqueuer.Enqueue(ctx, event.ID); err != nil {
		s.logger.ErrorContext(ctx, "event saved but not enqueued",
			"event_id", event.ID.String(),
			"error", err,
		)
		return nil, err
	}
	return event, nil
}

// Get returns the current record of one event.
func (s *Service) Get(ctx context.Context, id domain.EventID) (*models.Event, error) {
	event, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	return event, nil
}

// ListByUser returns a user's most recent events.
func (s *Service) ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*models.Event, error) {
	events, err := s.store.ListByUser(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events")
	}
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
