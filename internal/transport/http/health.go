package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"relay/pkg/platform/httputil"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// Health runs named dependency checks concurrently for /healthz.
type Health struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

func NewHealth(timeout time.Duration, logger *slog.Logger) *Health {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Health{checks: make(map[string]Check), timeout: timeout, logger: logger}
}

// Add registers a check; a later check with the same name replaces it.
func (h *Health) Add(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes every check and returns per-check results, "ok" or the error
// text, and whether all passed.
func (h *Health) Run(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	checks := make(map[string]Check, len(h.checks))
	for name, c := range h.checks {
		names = append(names, name)
		checks[name] = c
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]string, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			if err := checks[name](ctx); err != nil {
				results[i] = err.Error()
				return nil
			}
			results[i] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(names))
	healthy := true
	for i, name := range names {
		out[name] = results[i]
		if results[i] != "ok" {
			healthy = false
		}
	}
	return out, healthy
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	results, healthy := h.Run(r.Context())
	if !healthy {
		h.logger.WarnContext(r.Context(), "health check failed", "checks", results)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": results})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": results})
}
