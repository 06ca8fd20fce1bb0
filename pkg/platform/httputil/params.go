package httputil

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"relay/pkg/domain"
	dErrors "relay/pkg/domain-errors"
	"relay/pkg/requestcontext"
)

// CallerOwnedUser parses the named path parameter as a user id and requires it
// to be the authenticated caller.
func CallerOwnedUser(r *http.Request, param string) (domain.UserID, error) {
	userID, err := domain.ParseUserID(chi.URLParam(r, param))
	if err != nil {
		return "", err
	}
	caller := requestcontext.UserID(r.Context())
	if caller.IsZero() {
		return "", dErrors.New(dErrors.CodeUnauthorized, "missing or invalid token")
	}
	if caller != userID {
		return "", dErrors.New(dErrors.CodeForbidden, "cannot read another user's records")
	}
	return userID, nil
}

// QueryLimit reads the optional ?limit= parameter. Missing or malformed values
// yield 0 so callers apply their default.
func QueryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}
