// Package admin serves operator endpoints: group shutdown, session counts and
// audit lookups. Every route requires the X-Admin-Token header.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"relay/internal/broadcast"
	"relay/internal/realtime"
	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/audit"
	adminmw "relay/pkg/platform/middleware/admin"
	"relay/pkg/platform/httputil"
	"relay/pkg/requestcontext"
)

// AuditReader lists recorded audit events.
type AuditReader interface {
	List(ctx context.Context, userID domain.UserID) ([]audit.Event, error)
	ListByEvent(ctx context.Context, eventID domain.EventID) ([]audit.Event, error)
}

// OwnerDetacher clears the owner of a deleted user's events.
type OwnerDetacher interface {
	ClearOwner(ctx context.Context, userID domain.UserID) (int, error)
}

// SessionCounter reports live sessions of this process.
type SessionCounter interface {
	Count() int
}

// AuditEventResponse is the HTTP view of an audit event.
type AuditEventResponse struct {
	Category  audit.EventCategory `json:"category"`
	Action    string              `json:"action"`
	Timestamp time.Time           `json:"timestamp"`
	EventID   string              `json:"event_id,omitempty"`
	UserID    domain.UserID       `json:"user_id,omitempty"`
	Status    string              `json:"status,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	RequestID string              `json:"request_id,omitempty"`
	Client    string              `json:"client,omitempty"`
}

func toAuditResponses(events []audit.Event) []AuditEventResponse {
	out := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		resp := AuditEventResponse{
			Category:  e.Category,
			Action:    e.Action,
			Timestamp: e.Timestamp,
			UserID:    e.UserID,
			Status:    e.Status,
			Reason:    e.Reason,
			RequestID: e.RequestID,
			Client:    e.Client,
		}
		if !e.EventID.IsNil() {
			resp.EventID = e.EventID.String()
		}
		out = append(out, resp)
	}
	return out
}

type Handler struct {
	groups     broadcast.Publisher
	sessions   SessionCounter
	audit      AuditReader
	owners     OwnerDetacher
	adminToken string
	logger     *slog.Logger
}

// New creates the admin Handler. A nil auditReader or owners disables the
// matching routes.
func New(groups broadcast.Publisher, sessions SessionCounter, auditReader AuditReader, owners OwnerDetacher, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		groups:     groups,
		sessions:   sessions,
		audit:      auditReader,
		owners:     owners,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Register registers the admin routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(adminmw.RequireAdminToken(h.adminToken, h.logger))
		r.Post("/groups/{userID}/shutdown", h.handleShutdownGroup)
		r.Get("/sessions", h.handleSessions)
		if h.audit != nil {
			r.Get("/audit/users/{userID}", h.handleUserAudit)
			r.Get("/audit/events/{id}", h.handleEventAudit)
		}
		if h.owners != nil {
			r.Delete("/users/{userID}/events", h.handleDetachOwner)
		}
	})
}

func (h *Handler) handleShutdownGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := realtime.ShutdownGroup(ctx, h.groups, userID); err != nil {
		h.logger.ErrorContext(ctx, "failed to send exit signal",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to send exit signal"))
		return
	}
	h.logger.InfoContext(ctx, "exit signal sent",
		"request_id", requestID,
		"user_id", userID.String(),
	)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "exit signal sent"})
}

// handleDetachOwner runs when the account system deletes a user. Events stay
// for reporting with no owner; live sessions get the exit signal.
func (h *Handler) handleDetachOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.owners.ClearOwner(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to detach event owner",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to detach events"))
		return
	}
	if err := realtime.ShutdownGroup(ctx, h.groups, userID); err != nil {
		h.logger.WarnContext(ctx, "failed to close sessions of deleted user",
			"request_id", requestID,
			"user_id", userID.String(),
			"error", err,
		)
	}
	h.logger.InfoContext(ctx, "detached events from deleted user",
		"request_id", requestID,
		"user_id", userID.String(),
		"events", n,
	)
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"detached": n})
}

func (h *Handler) handleSessions(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"sessions": h.sessions.Count()})
}

func (h *Handler) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := domain.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.audit.List(ctx, userID)
	h.writeAudit(ctx, w, events, err)
}

func (h *Handler) handleEventAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := domain.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	events, err := h.audit.ListByEvent(ctx, eventID)
	h.writeAudit(ctx, w, events, err)
}

func (h *Handler) writeAudit(ctx context.Context, w http.ResponseWriter, events []audit.Event, err error) {
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read audit events",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit events"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toAuditResponses(events)})
}
