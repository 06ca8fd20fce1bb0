package realtime

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mssola/useragent"

	"relay/internal/broadcast"
	authmw "relay/pkg/platform/middleware/auth"
	"relay/pkg/requestcontext"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// wsConn adds deadlines and keepalive to a gorilla connection.
type wsConn struct {
	*websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{Conn: c}
}

func (c *wsConn) WriteJSON(v any) error {
	_ = c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) Ping() error {
	return c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Handler upgrades HTTP requests to real-time sessions. Authentication
// happens after the upgrade so unauthenticated clients see a clean close
// rather than a handshake failure.
type Handler struct {
	upgrader   websocket.Upgrader
	validator  authmw.JWTValidator
	subscriber broadcast.Subscriber
	manager    *Manager
	actions    ActionHandler
	audit      AuditPublisher
	metrics    *Metrics
	logger     *slog.Logger
}

type HandlerOption func(*Handler)

func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = originChecker(origins)
	}
}

func WithHandlerActions(actions ActionHandler) HandlerOption {
	return func(h *Handler) { h.actions = actions }
}

func WithHandlerAudit(publisher AuditPublisher) HandlerOption {
	return func(h *Handler) { h.audit = publisher }
}

func WithHandlerMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func NewHandler(validator authmw.JWTValidator, subscriber broadcast.Subscriber, manager *Manager, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(nil),
		},
		validator:  validator,
		subscriber: subscriber,
		manager:    manager,
		actions:    DefaultActions{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered the request
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}

	session := NewSession(newWSConn(conn), h.subscriber,
		WithActionHandler(h.actions),
		WithSessionLogger(h.logger),
		WithSessionAudit(h.audit),
		WithSessionMetrics(h.metrics),
		WithClient(DescribeClient(r.UserAgent())),
		WithPingInterval(pingPeriod),
	)

	ok, err := session.Connect(ctx, h.principal(r))
	if err != nil {
		h.logger.ErrorContext(ctx, "session connect failed", "error", err)
		return
	}
	if !ok {
		return
	}

	h.manager.Add(session)
	defer h.manager.Remove(session)
	if err := session.Serve(ctx); err != nil {
		h.logger.WarnContext(ctx, "session ended with error", "session_id", session.ID(), "error", err)
	}
}

func (h *Handler) principal(r *http.Request) Principal {
	token := authmw.TokenFromRequest(r)
	if token == "" || h.validator == nil {
		return Principal{}
	}
	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		h.logger.DebugContext(r.Context(), "rejecting websocket token", "error", err)
		return Principal{}
	}
	return Principal{UserID: claims.UserID, Authenticated: true}
}

// originChecker allows listed origins, "*" for any. With no list only
// same-host origins pass, as gorilla does by default.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		if len(allowed) > 0 {
			return false
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// DescribeClient renders a user agent as "Browser version (OS)".
func DescribeClient(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	name, version := parsed.Browser()
	desc := strings.TrimSpace(name + " " + version)
	if os := parsed.OS(); os != "" {
		desc += " (" + os + ")"
	}
	if parsed.Bot() {
		desc += " [bot]"
	}
	return desc
}
