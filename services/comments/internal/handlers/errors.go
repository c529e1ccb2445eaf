package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/internal/platform/httpserver"
	"github.com/example/blog-platform/services/comments/internal/service"
)

const (
	retryAfterTimeout     = time.Second
	retryAfterUnavailable = 5 * time.Second
)

// writeServiceError maps service errors onto the API error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())

	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		api.ValidationFailed(w, rid, verr.Fields)
	case errors.Is(err, service.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "not found", rid)
	case errors.Is(err, service.ErrForbidden):
		api.Forbidden(w, "COMMENTS_DISABLED", "comments are disabled for this post", rid)
	case errors.Is(err, service.ErrDuplicateRequest):
		api.Conflict(w, "DUPLICATE_REQUEST", "a request with this idempotency key is in progress", rid, nil)
	case errors.Is(err, service.ErrTimeout):
		api.Unavailable(w, "STORE_TIMEOUT", "storage did not respond in time", rid, retryAfterTimeout)
	case errors.Is(err, service.ErrUnavailable):
		api.Unavailable(w, "STORE_UNAVAILABLE", "storage is unavailable", rid, retryAfterUnavailable)
	case errors.Is(err, service.ErrCanceled):
		api.ClientClosed(w, rid)
	default:
		api.Internal(w, rid)
	}
}

func validationFailed(w http.ResponseWriter, r *http.Request, field, msg string) {
	api.ValidationFailed(w, httpserver.RequestIDFromContext(r.Context()), map[string]string{field: msg})
}

// decodeBody reads a JSON body capped at maxBodyBytes. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	rid := httpserver.RequestIDFromContext(r.Context())
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		api.PayloadTooLarge(w, rid, tooLarge.Limit)
		return false
	}
	api.BadRequest(w, "INVALID_JSON", "invalid JSON", rid, nil)
	return false
}
