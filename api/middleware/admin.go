package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/greenbasket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

const operatorHeader = "X-Operator-Id"

// AdminAuth checks the bearer token against the configured admin token and
// tags the request with the operator named in X-Operator-Id.
func AdminAuth(token string, logg *logger.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin api disabled"))
				return
			}

			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
				raw = strings.TrimSpace(raw[7:])
			}
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(raw), expected) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials"))
				return
			}

			operator := strings.TrimSpace(r.Header.Get(operatorHeader))
			if operator == "" {
				operator = RoleAdmin
			}
			ctx := WithActor(r.Context(), RoleAdmin, operator)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"actor_role": RoleAdmin, "actor_id": operator})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
