package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/broadcast"
	"relay/pkg/domain"
	"relay/pkg/platform/audit"
	"relay/pkg/platform/audit/publisher"
	"relay/pkg/platform/audit/store/memory"
)

// fakeConn feeds client frames from a channel and records pushed frames.
type fakeConn struct {
	in      chan ClientFrame
	out     chan ServerFrame
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	closes  int
	writing sync.Mutex
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan ClientFrame, 8),
		out:    make(chan ServerFrame, 8),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case frame := <-c.in:
		*(v.(*ClientFrame)) = frame
		return nil
	case <-c.closed:
		return io.EOF
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	if !c.writing.TryLock() {
		return errors.New("concurrent write")
	}
	defer c.writing.Unlock()
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.out <- v.(ServerFrame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) next(t *testing.T) ServerFrame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame pushed")
		return ServerFrame{}
	}
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func serve(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSession_UnauthenticatedIsClosedWithoutJoin(t *testing.T) {
	hub := broadcast.NewMemoryHub()
	conn := newFakeConn()
	audits := memory.NewInMemoryStore()
	s := NewSession(conn, hub, WithSessionLogger(quiet()), WithSessionAudit(publisher.NewPublisher(audits)))

	ok, err := s.Connect(context.Background(), Principal{UserID: "u1"})

	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Zero(t, hub.Members("u1_group"))
	assert.Equal(t, []string{string(audit.EventSessionRejected)}, audits.Actions())
}

func TestSession_RelaysGroupMessages(t *testing.T) {
	hub := broadcast.NewMemoryHub()
	ctx := context.Background()

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	users := []Principal{
		{UserID: "u1", Authenticated: true},
		{UserID: "u1", Authenticated: true},
		{UserID: "u2", Authenticated: true},
	}
	var sessions []*Session
	var dones []<-chan error
	for i, conn := range conns {
		s := NewSession(conn, hub, WithSessionLogger(quiet()))
		ok, err := s.Connect(ctx, users[i])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StateConnected, s.State())
		sessions = append(sessions, s)
		dones = append(dones, serve(t, s))
	}
	assert.Equal(t, 2, hub.Members("u1_group"))

	data := map[string]any{"status": "SUCCESS", "message": "event completed"}
	require.NoError(t, hub.Publish(ctx, "u1_group", broadcast.NewNotification(data)))

	first, second := conns[0].next(t), conns[1].next(t)
	assert.Equal(t, first, second)
	assert.Equal(t, ServerFrame{Type: "send_notification", Data: data}, first)

	select {
	case f := <-conns[2].out:
		t.Fatalf("u2 received %+v", f)
	case <-time.After(30 * time.Millisecond):
	}

	for i, s := range sessions {
		s.Disconnect()
		waitDone(t, dones[i])
	}
	assert.Zero(t, hub.Members("u1_group"))
}

func TestSession_ExitSignalCloses(t *testing.T) {
	hub := broadcast.NewMemoryHub()
	conn := newFakeConn()
	s := NewSession(conn, hub, WithSessionLogger(quiet()))
	ok, err := s.Connect(context.Background(), Principal{UserID: "u1", Authenticated: true})
	require.NoError(t, err)
	require.True(t, ok)
	done := serve(t, s)

	require.NoError(t, ShutdownGroup(context.Background(), hub, "u1"))

	waitDone(t, done)
	assert.True(t, conn.isClosed())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Zero(t, hub.Members("u1_group"))
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	hub := broadcast.NewMemoryHub()
	conn := newFakeConn()
	audits := memory.NewInMemoryStore()
	s := NewSession(conn, hub, WithSessionLogger(quiet()), WithSessionAudit(publisher.NewPublisher(audits)))
	_, err := s.Connect(context.Background(), Principal{UserID: "u1", Authenticated: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Disconnect()
		}()
	}
	wg.Wait()
	s.Disconnect()

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, conn.closes)
	assert.Equal(t, []string{
		string(audit.EventSessionConnected),
		string(audit.EventSessionDisconnected),
	}, audits.Actions())
}

func TestSession_ClientActions(t *testing.T) {
	hub := broadcast.NewMemoryHub()
	conn := newFakeConn()
	s := NewSession(conn, hub, WithSessionLogger(quiet()), WithActionHandler(DefaultActions{}))
	_, err := s.Connect(context.Background(), Principal{UserID: "u1", Authenticated: true})
	require.NoError(t, err)
	done := serve(t, s)

	conn.in <- ClientFrame{Action: "ping", Payload: map[string]any{"n": 1.0}}
	assert.Equal(t, ServerFrame{Type: TypePong, Data: map[string]any{"n": 1.0}}, conn.next(t))

	conn.in <- ClientFrame{Action: "subscribe"}
	frame := conn.next(t)
	assert.Equal(t, TypeError, frame.Type)
	assert.Contains(t, frame.Data["message"], "subscribe")

	// client going away ends Serve cleanly
	_ = conn.Close()
	waitDone(t, done)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSession_ConnectTwiceFails(t *testing.T) {
	s := NewSession(newFakeConn(), broadcast.NewMemoryHub(), WithSessionLogger(quiet()))
	_, err := s.Connect(context.Background(), Principal{UserID: "u1", Authenticated: true})
	require.NoError(t, err)
	_, err = s.Connect(context.Background(), Principal{UserID: "u1", Authenticated: true})
	assert.Error(t, err)
}

func TestSession_InvalidUserRejected(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(conn, broadcast.NewMemoryHub(), WithSessionLogger(quiet()))
	ok, err := s.Connect(context.Background(), Principal{UserID: "u1.*", Authenticated: true})
	assert.False(t, ok)
	assert.Error(t, err)
	assert.True(t, conn.isClosed())
}

func TestManager(t *testing.T) {
	hub := broadcast.NewMemoryHub()
	m := NewManager()
	var conns []*fakeConn
	for _, user := range []string{"u1", "u2"} {
		conn := newFakeConn()
		s := NewSession(conn, hub, WithSessionLogger(quiet()))
		_, err := s.Connect(context.Background(), Principal{UserID: domain.UserID(user), Authenticated: true})
		require.NoError(t, err)
		m.Add(s)
		conns = append(conns, conn)
	}
	assert.Equal(t, 2, m.Count())

	m.CloseAll()
	assert.Zero(t, m.Count())
	for _, c := range conns {
		assert.True(t, c.isClosed())
	}

	assert.Error(t, ShutdownGroup(context.Background(), hub, ""))
}

func TestDescribeClient(t *testing.T) {
	desc := DescribeClient("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, desc, "Chrome")
	assert.Contains(t, desc, "Linux")
	assert.Equal(t, "", DescribeClient(""))
}
