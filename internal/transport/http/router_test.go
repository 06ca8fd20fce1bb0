package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventhandler "relay/internal/event/handler"
	eventservice "relay/internal/event/service"
	"relay/internal/event/store"
	"relay/pkg/domain"
	"relay/pkg/platform/middleware/allowlist"
	"relay/pkg/testutil"
)

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(context.Context, domain.EventID) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, allowed []string, health *Health) http.Handler {
	t.Helper()
	svc, err := eventservice.New(store.NewInMemoryStore(), nopEnqueuer{})
	require.NoError(t, err)
	list, err := allowlist.Parse(allowed)
	require.NoError(t, err)

	events := eventhandler.New(svc, discardLogger(), nil,
		eventhandler.WithPublishGuard(list.Middleware(discardLogger())),
	)
	return NewRouter(Config{
		Logger:         discardLogger(),
		MetricsHandler: promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		Health:         health,
	}, events)
}

func TestRouter_Publish(t *testing.T) {
	body := map[string]any{
		"action":  "notify_user",
		"payload": map[string]any{"message": "hello"},
		"user":    "u1",
	}

	testutil.Given(t, "an open allowlist", func(t *testing.T) {
		router := newTestRouter(t, nil, nil)

		rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/v1/publish", body))

		testutil.Then(t, "the event is acknowledged with a request id", func(t *testing.T) {
			testutil.AssertStatusOK(t, rr)
			assert.NotEmpty(t, rr.Header().Get(chimw.RequestIDHeader))
			testutil.AssertJSONContains(t, rr, "message", "Event published")
		})
	})

	testutil.Given(t, "a publisher outside the allowlist", func(t *testing.T) {
		router := newTestRouter(t, []string{"10.0.0.0/8"}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/publish", body)
		req.RemoteAddr = "192.168.1.5:4000"

		rr := testutil.DoRequest(router, req)

		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	testutil.Given(t, "an invalid body", func(t *testing.T) {
		router := newTestRouter(t, nil, nil)

		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodPost, "/v1/publish", `{"action":"fax"}`))

		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	health := NewHealth(0, discardLogger())
	health.Add("postgres", func(context.Context) error { return nil })
	router := newTestRouter(t, nil, health)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "ok")

	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))
	testutil.AssertStatusOK(t, rr)

	health.Add("redis", func(context.Context) error { return errors.New("connection refused") })
	rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
	testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
}

func TestHealth_Run(t *testing.T) {
	health := NewHealth(0, discardLogger())
	health.Add("ok", func(context.Context) error { return nil })
	health.Add("down", func(context.Context) error { return errors.New("boom") })

	results, healthy := health.Run(context.Background())

	assert.False(t, healthy)
	assert.Equal(t, map[string]string{"ok": "ok", "down": "boom"}, results)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/nope"))

	testutil.AssertStatus(t, rr, http.StatusNotFound)
}
