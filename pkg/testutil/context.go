package testutil

import (
	"net/http"

	"relay/pkg/domain"
	"relay/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context, as the auth middleware
// does for a valid token. Invalid ids are ignored.
func WithUserID(req *http.Request, userID string) *http.Request {
	parsed, err := domain.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithUserID(req.Context(), parsed))
}

// WithClientIP sets the client address the allowlist middleware reads.
func WithClientIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, req.UserAgent()))
}
