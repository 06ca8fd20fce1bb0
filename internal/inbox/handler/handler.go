// Package handler serves the persisted notification inbox.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"relay/internal/inbox"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/httputil"
	"relay/pkg/requestcontext"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Lister reads a user's notifications, newest first.
type Lister interface {
	ListByUser(ctx context.Context, userID domain.UserID, limit int) ([]inbox.Notification, error)
}

// Handler handles GET /v1/users/{id}/notifications.
type Handler struct {
	store  Lister
	logger *slog.Logger
	auth   []func(http.Handler) http.Handler
}

// New creates an inbox Handler. auth must resolve the caller into the
// request context.
func New(store Lister, logger *slog.Logger, auth ...func(http.Handler) http.Handler) *Handler {
	return &Handler{store: store, logger: logger, auth: auth}
}

// Register registers the inbox routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.auth...)
		r.Get("/v1/users/{id}/notifications", h.handleList)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, err := httputil.CallerOwnedUser(r, "id")
	if err != nil {
		h.logger.WarnContext(ctx, "denied inbox listing",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	limit := httputil.QueryLimit(r)
	if limit <= 0 {
		limit = defaultLimit
	}
	notifications, err := h.store.ListByUser(ctx, userID, min(limit, maxLimit))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list notifications",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications"))
		return
	}
	if notifications == nil {
		notifications = []inbox.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}
