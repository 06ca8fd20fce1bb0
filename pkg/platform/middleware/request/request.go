// Package request copies chi's request id into the request context so
// non-HTTP code can log and audit it.
package request

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"relay/pkg/requestcontext"
)

// RequestID must run after chi's middleware.RequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			w.Header().Set(chimw.RequestIDHeader, id)
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
