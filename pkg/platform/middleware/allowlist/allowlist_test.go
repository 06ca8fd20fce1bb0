package allowlist

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowlist(t *testing.T) {
	a, err := Parse([]string{"10.0.0.7", " 192.168.0.0/16 ", ""})
	require.NoError(t, err)

	assert.True(t, a.Allows("10.0.0.7"))
	assert.True(t, a.Allows("192.168.44.2"))
	assert.True(t, a.Allows("::ffff:10.0.0.7"))
	assert.False(t, a.Allows("10.0.0.8"))
	assert.False(t, a.Allows("not-an-ip"))
}

func TestAllowlist_EmptyAdmitsAll(t *testing.T) {
	a, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, a.Allows("203.0.113.9"))
}

func TestParse_RejectsGarbage(t *testing.T) {
	_, err := Parse([]string{"10.0.0.0/99"})
	assert.Error(t, err)
	_, err = Parse([]string{"example.com"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a, err := Parse([]string{"127.0.0.1"})
	require.NoError(t, err)
	handler := a.Middleware(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/publish", nil)
		req.RemoteAddr = "127.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("denied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/publish", nil)
		req.RemoteAddr = "198.51.100.4:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), `"forbidden"`)
	})
}
