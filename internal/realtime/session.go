// Package realtime keeps WebSocket clients joined to their user's broadcast
// group and relays group messages to them.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relay/internal/broadcast"
	"relay/pkg/domain"
	"relay/pkg/platform/audit"
)

// State is the lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Conn is the client connection. WriteJSON is never called concurrently;
// Close may be called at any time and must unblock ReadJSON.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Pinger is implemented by connections that need keepalive frames.
type Pinger interface {
	Ping() error
}

// Principal is the caller resolved from the handshake.
type Principal struct {
	UserID        domain.UserID
	Authenticated bool
}

// ClientFrame is a message sent by the client.
type ClientFrame struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ServerFrame is a message pushed to the client. Group messages are relayed
// verbatim as {type, data}.
type ServerFrame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// ActionHandler handles client frames for a connected session.
type ActionHandler interface {
	HandleAction(ctx context.Context, s *Session, frame ClientFrame) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var errExitSignal = errors.New("exit signal received")

type Session struct {
	id         string
	conn       Conn
	subscriber broadcast.Subscriber
	actions    ActionHandler
	audit      AuditPublisher
	metrics    *Metrics
	logger     *slog.Logger
	client     string
	pingEvery  time.Duration

	state     atomic.Int32
	writeMu   sync.Mutex
	principal Principal
	group     string
	sub       broadcast.Subscription
	auditCtx  context.Context
	closeOnce sync.Once
}

type SessionOption func(*Session)

func WithActionHandler(h ActionHandler) SessionOption {
	return func(s *Session) { s.actions = h }
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func WithSessionAudit(publisher AuditPublisher) SessionOption {
	return func(s *Session) { s.audit = publisher }
}

func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithClient records a short description of the client software.
func WithClient(description string) SessionOption {
	return func(s *Session) { s.client = description }
}

// WithPingInterval enables keepalive pings on connections implementing Pinger.
func WithPingInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pingEvery = d }
}

func NewSession(conn Conn, subscriber broadcast.Subscriber, opts ...SessionOption) *Session {
	s := &Session{
		id:         uuid.NewString(),
		conn:       conn,
		subscriber: subscriber,
		logger:     slog.Default(),
		auditCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) Principal() Principal { return s.principal }

// Group is the broadcast group the session joined, empty before Connect.
func (s *Session) Group() string { return s.group }

// Connect joins the principal's group. An unauthenticated principal gets its
// connection closed without a join; that is not an error and Connect reports
// false.
func (s *Session) Connect(ctx context.Context, p Principal) (bool, error) {
	if !s.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return false, fmt.Errorf("session %s already %s", s.id, s.State())
	}
	s.principal = p
	s.auditCtx = context.WithoutCancel(ctx)

	if !p.Authenticated {
		s.metrics.IncRejected()
		s.emit(audit.EventSessionRejected, "unauthenticated")
		s.closeConn()
		s.state.Store(int32(StateDisconnected))
		return false, nil
	}

	group, err := broadcast.GroupKey(p.UserID)
	if err != nil {
		s.closeConn()
		s.state.Store(int32(StateDisconnected))
		return false, fmt.Errorf("session group: %w", err)
	}
	sub, err := s.subscriber.Subscribe(ctx, group)
	if err != nil {
		s.closeConn()
		s.state.Store(int32(StateDisconnected))
		return false, fmt.Errorf("join %s: %w", group, err)
	}

	s.group = group
	s.sub = sub
	s.state.Store(int32(StateConnected))
	s.metrics.SessionOpened()
	s.emit(audit.EventSessionConnected, "")
	s.logger.InfoContext(ctx, "session connected", "session_id", s.id, "group", group)
	return true, nil
}

// Serve relays until the client goes away, an exit signal arrives or ctx is
// done. The session is disconnected when Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	if s.State() != StateConnected {
		return fmt.Errorf("session %s is %s", s.id, s.State())
	}
	defer s.Disconnect()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// unblocks the read loop
		s.Disconnect()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errExitSignal) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Send writes a frame to the client.
func (s *Session) Send(frame ServerFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// Disconnect leaves the group and closes the connection. Safe to call more
// than once and from any goroutine.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		wasConnected := s.State() == StateConnected
		s.state.Store(int32(StateDisconnected))
		if s.sub != nil {
			if err := s.sub.Close(); err != nil {
				s.logger.Warn("failed to leave group", "session_id", s.id, "group", s.group, "error", err)
			}
		}
		s.closeConn()
		if wasConnected {
			s.metrics.SessionClosed()
			s.emit(audit.EventSessionDisconnected, "")
			s.logger.Info("session disconnected", "session_id", s.id, "group", s.group)
		}
	})
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		var frame ClientFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if s.State() == StateConnected {
				s.logger.DebugContext(ctx, "client went away", "session_id", s.id, "error", err)
			}
			return context.Canceled
		}
		s.metrics.IncFrames("in")
		if s.actions == nil {
			continue
		}
		if err := s.actions.HandleAction(ctx, s, frame); err != nil {
			s.logger.WarnContext(ctx, "client action failed",
				"session_id", s.id,
				"action", frame.Action,
				"error", err,
			)
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	var ping <-chan time.Time
	pinger, canPing := s.conn.(Pinger)
	if canPing && s.pingEvery > 0 {
		ticker := time.NewTicker(s.pingEvery)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping:
			if err := pinger.Ping(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case msg, ok := <-s.sub.Messages():
			if !ok {
				return context.Canceled
			}
			if msg.Type == broadcast.TypeExitSignal {
				return errExitSignal
			}
			if err := s.Send(ServerFrame{Type: msg.Type, Data: msg.Data}); err != nil {
				if s.State() != StateConnected {
					return context.Canceled
				}
				return fmt.Errorf("write frame: %w", err)
			}
			s.metrics.IncFrames("out")
		}
	}
}

func (s *Session) closeConn() {
	_ = s.conn.Close()
}

func (s *Session) emit(kind audit.AuditEvent, reason string) {
	if s.audit == nil {
		return
	}
	event := audit.New(kind)
	event.UserID = s.principal.UserID
	event.Reason = reason
	event.Client = s.client
	event.Timestamp = time.Now()
	_ = s.audit.Emit(s.auditCtx, event)
}
