package auth

import (
	"net/http"
	"strings"

	"github.com/example/blog-platform/internal/platform/api"
	"github.com/example/blog-platform/internal/platform/httpserver"
)

// Roles allowed to read moderation views of comments.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
)

// RequireRole admits the request when the role injected by RequireUser is
// one of roles. Comparison ignores case and surrounding space.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := RoleFromContext(r.Context())
			if _, ok := allowed[strings.ToLower(strings.TrimSpace(role))]; !ok {
				api.Forbidden(w, "ROLE_REQUIRED", "moderator access required", httpserver.RequestIDFromContext(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
