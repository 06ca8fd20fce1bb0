// Package httputil translates coded domain errors and JSON bodies at the HTTP edge.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	dErrors "relay/pkg/domain-errors"
)

// MaxBodyBytes bounds request bodies accepted by ReadBody.
const MaxBodyBytes = 1 << 20

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeBadRequest:    http.StatusBadRequest,
	dErrors.CodeInvalidInput:  http.StatusBadRequest,
	dErrors.CodeConfiguration: http.StatusBadRequest,
	dErrors.CodeUnauthorized:  http.StatusUnauthorized,
	dErrors.CodeForbidden:     http.StatusForbidden,
	dErrors.CodeNotFound:      http.StatusNotFound,
	dErrors.CodeConflict:      http.StatusConflict,
	dErrors.CodeTooLarge:      http.StatusRequestEntityTooLarge,
	dErrors.CodeUnavailable:   http.StatusServiceUnavailable,
	dErrors.CodeInternal:      http.StatusInternalServerError,
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and a {error, error_description} body.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	body := map[string]string{"error": string(code)}
	if status < http.StatusInternalServerError {
		var de *dErrors.Error
		if errors.As(err, &de) {
			body["error_description"] = de.Message
		}
	}
	WriteJSON(w, status, body)
}

// ReadBody reads the whole request body, refusing anything over
// MaxBodyBytes with CodeTooLarge instead of truncating it.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.Wrap(err, dErrors.CodeTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return raw, nil
}
