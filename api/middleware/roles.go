package middleware

import (
	"net/http"

	"github.com/ringwise/ringwise-backend/api/responses"
	"github.com/ringwise/ringwise-backend/pkg/auth"
	pkgerrors "github.com/ringwise/ringwise-backend/pkg/errors"
	"github.com/ringwise/ringwise-backend/pkg/logger"
)

// RequireAdmin guards the number pool operations. Only tokens minted with the
// admin role may provision or list virtual numbers.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			role := RoleFromContext(ctx)
			if role != auth.RoleAdmin {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"user_id": UserIDFromContext(ctx),
						"role":    role,
						"path":    r.URL.Path,
					}), "admin route denied")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
