package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"relay/pkg/platform/httputil"
	"relay/pkg/platform/middleware/metadata"
	"relay/pkg/requestcontext"
)

// Middleware limits requests per client IP. Store failures let the request
// through.
func Middleware(l *Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = metadata.ClientIPFromRequest(r)
			}

			result, err := l.Allow(ctx, ip)
			if err != nil {
				logger.ErrorContext(ctx, "failed to check rate limit",
					"class", l.class,
					"request_id", requestcontext.RequestID(ctx),
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			addHeaders(w, result)
			if !result.Allowed {
				logger.WarnContext(ctx, "rate limit exceeded",
					"class", l.class,
					"client_ip", ip,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeExceeded(w http.ResponseWriter, result Result) {
	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate_limit_exceeded",
		"message":     "Too many requests from this IP address. Please try again later.",
		"retry_after": retryAfter,
	})
}
