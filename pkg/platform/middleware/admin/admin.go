package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/httputil"
	"relay/pkg/requestcontext"
)

// RequireAdminToken guards operator endpoints with the X-Admin-Token header.
// An empty expected token disables the endpoints entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if expectedToken == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin api disabled"))
				return
			}
			token := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
