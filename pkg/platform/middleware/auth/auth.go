// Package auth resolves the caller from a bearer token.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/platform/httputil"
	"relay/pkg/requestcontext"
)

// TokenQueryParam is the query parameter browsers use when they cannot set
// headers on a WebSocket handshake.
const TokenQueryParam = "tk"

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID domain.UserID
	JTI    string
}

// TokenFromRequest reads "Authorization: Token <t>", "Authorization: Bearer <t>"
// or the tk query parameter, in that order.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	for _, prefix := range []string{"Token ", "Bearer "} {
		if after, ok := strings.CutPrefix(header, prefix); ok {
			return strings.TrimSpace(after)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// Authenticate stores the caller's user id in the context when a valid token
// is presented and otherwise passes the request through anonymously.
func Authenticate(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "ignoring invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}
			ctx = requestcontext.WithUserID(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that Authenticate did not resolve to a user.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.UserID(ctx).IsZero() {
				logger.WarnContext(ctx, "unauthorized access - missing or invalid token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
