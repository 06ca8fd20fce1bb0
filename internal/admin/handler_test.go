package admin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/broadcast"
	"relay/internal/event/models"
	"relay/internal/event/store"
	"relay/pkg/domain"
	"relay/pkg/platform/audit"
	"relay/pkg/platform/audit/publisher"
	auditmemory "relay/pkg/platform/audit/store/memory"
	"relay/pkg/testutil"
)

const token = "s3cret"

type fixedCounter int

func (c fixedCounter) Count() int { return int(c) }

type fixture struct {
	router chi.Router
	hub    *broadcast.MemoryHub
	audit  *publisher.Publisher
	events *store.InMemoryStore
}

func setup(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		hub:    broadcast.NewMemoryHub(),
		audit:  publisher.NewPublisher(auditmemory.NewInMemoryStore()),
		events: store.NewInMemoryStore(),
		router: chi.NewRouter(),
	}
	t.Cleanup(f.audit.Close)
	New(f.hub, fixedCounter(3), f.audit, f.events, token, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(f.router)
	return f
}

func adminRequest(t *testing.T, method, path string) *http.Request {
	req := testutil.NewRequest(t, method, path)
	req.Header.Set("X-Admin-Token", token)
	return req
}

func TestShutdownGroup(t *testing.T) {
	f := setup(t)
	router, hub := f.router, f.hub
	group, err := broadcast.GroupKey("u1")
	require.NoError(t, err)
	sub, err := hub.Subscribe(context.Background(), group)
	require.NoError(t, err)
	defer sub.Close()

	testutil.Given(t, "a valid admin token", func(t *testing.T) {
		rr := testutil.DoRequest(router, adminRequest(t, http.MethodPost, "/admin/groups/u1/shutdown"))

		testutil.Then(t, "the group receives the exit signal", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusAccepted)
			select {
			case msg := <-sub.Messages():
				assert.Equal(t, broadcast.TypeExitSignal, msg.Type)
			case <-time.After(time.Second):
				t.Fatal("exit signal not delivered")
			}
		})
	})

	testutil.Given(t, "no admin token", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/admin/groups/u1/shutdown"))

		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	testutil.Given(t, "an invalid user id", func(t *testing.T) {
		rr := testutil.DoRequest(router, adminRequest(t, http.MethodPost, "/admin/groups/a.b/shutdown"))

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestSessions(t *testing.T) {
	f := setup(t)

	rr := testutil.DoRequest(f.router, adminRequest(t, http.MethodGet, "/admin/sessions"))

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "sessions", float64(3))
}

func TestAuditLookups(t *testing.T) {
	f := setup(t)
	router, pub := f.router, f.audit
	eventID := domain.NewEventID()
	ev := audit.New(audit.EventSucceeded)
	ev.EventID = eventID
	ev.UserID = "u1"
	ev.Status = "SUCCESS"
	require.NoError(t, pub.Emit(context.Background(), ev))

	rr := testutil.DoRequest(router, adminRequest(t, http.MethodGet, "/admin/audit/events/"+eventID.String()))
	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[map[string][]AuditEventResponse](t, rr)
	require.Len(t, (*resp)["events"], 1)
	got := (*resp)["events"][0]
	assert.Equal(t, string(audit.EventSucceeded), got.Action)
	assert.Equal(t, eventID.String(), got.EventID)
	assert.Equal(t, audit.CategoryLifecycle, got.Category)

	rr = testutil.DoRequest(router, adminRequest(t, http.MethodGet, "/admin/audit/users/u1"))
	testutil.AssertStatusOK(t, rr)
	resp = testutil.UnmarshalResponse[map[string][]AuditEventResponse](t, rr)
	assert.Len(t, (*resp)["events"], 1)
}

func TestDetachOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 2; i++ {
		event, err := models.NewEvent(domain.NewEventID(), "u1", []byte(`{"action":"notify_user","payload":{}}`), now)
		require.NoError(t, err)
		require.NoError(t, f.events.Create(ctx, event))
	}

	rr := testutil.DoRequest(f.router, adminRequest(t, http.MethodDelete, "/admin/users/u1/events"))

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "detached", float64(2))
	remaining, err := f.events.ListByUser(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
