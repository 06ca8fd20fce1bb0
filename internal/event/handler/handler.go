package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relay/internal/event/models"
	"relay/internal/platform/metrics"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/httputil"
	"relay/pkg/requestcontext"
)

// Service defines the event operations exposed over HTTP.
type Service interface {
	Publish(ctx context.Context, raw []byte) (*models.Event, error)
	Get(ctx context.Context, id domain.EventID) (*models.Event, error)
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]*models.Event, error)
}

// PublishResponse acknowledges an accepted event.
type PublishResponse struct {
	Status  int            `json:"status"`
	Message string         `json:"message"`
	EventID domain.EventID `json:"event_id"`
}

// EventResponse is the HTTP view of an event record.
type EventResponse struct {
	ID        domain.EventID `json:"id"`
	UserID    domain.UserID  `json:"user_id,omitempty"`
	Status    models.Status  `json:"status"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func toEventResponse(e *models.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		UserID:    e.UserID,
		Status:    e.Status,
		Message:   e.Message,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

type Middleware = func(http.Handler) http.Handler

// Handler handles the publish, event status and user event history endpoints.
type Handler struct {
	events       Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	publishGuard []Middleware
	userGuard    []Middleware
}

type Option func(*Handler)

// WithPublishGuard wraps the publisher routes, e.g. with the IP allowlist.
func WithPublishGuard(mw ...Middleware) Option {
	return func(h *Handler) {
		h.publishGuard = append(h.publishGuard, mw...)
	}
}

// WithUserAuth wraps the user-scoped routes. The guard must put the caller's
// user id in the request context.
func WithUserAuth(mw ...Middleware) Option {
	return func(h *Handler) {
		h.userGuard = append(h.userGuard, mw...)
	}
}

// New creates an event Handler.
func New(events Service, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		events:  events,
		logger:  logger,
		metrics: m,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the event routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.publishGuard...)
		r.Post("/v1/publish", h.handlePublish)
		r.Get("/v1/events/{id}", h.handleGetEvent)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.userGuard...)
		r.Get("/v1/users/{id}/events", h.handleListUserEvents)
	})
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	raw, err := httputil.ReadBody(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "unreadable publish body",
			"request_id", requestID,
			"error", err,
		)
		h.reject(w, err)
		return
	}

	event, err := h.events.Publish(ctx, raw)
	if err != nil {
		code := dErrors.CodeOf(err)
		if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
			h.logger.ErrorContext(ctx, "failed to publish event",
				"request_id", requestID,
				"error", err,
			)
		} else {
			h.logger.WarnContext(ctx, "rejected publish request",
				"request_id", requestID,
				"error", err,
			)
		}
		h.reject(w, err)
		return
	}

	h.metrics.IncEventsPublished()
	h.logger.InfoContext(ctx, "event published",
		"request_id", requestID,
		"event_id", event.ID.String(),
		"user_id", event.UserID.String(),
	)
	httputil.WriteJSON(w, http.StatusOK, PublishResponse{
		Status:  http.StatusOK,
		Message: "Event published",
		EventID: event.ID,
	})
}

func (h *Handler) reject(w http.ResponseWriter, err error) {
	h.metrics.IncPublishRejected(string(dErrors.CodeOf(err)))
	httputil.WriteError(w, err)
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	event, err := h.events.Get(ctx, id)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "failed to load event",
				"request_id", requestcontext.RequestID(ctx),
				"event_id", id.String(),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toEventResponse(event))
}

func (h *Handler) handleListUserEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := httputil.CallerOwnedUser(r, "id")
	if err != nil {
		h.logger.WarnContext(ctx, "denied user event listing",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	events, err := h.events.ListByUser(ctx, userID, httputil.QueryLimit(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list events",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := make([]EventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toEventResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": resp})
}
