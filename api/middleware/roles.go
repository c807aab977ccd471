package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/carline-backend/pkg/enums"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

// RoleHeader carries the operator station (registration, staging, pickup,
// display) issuing the request.
const RoleHeader = "X-Carline-Role"

// OperatorRole tags the request with the declared station. Any station may
// perform any transition, so the role is recorded for logs only. Unknown
// values are ignored.
func OperatorRole(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(RoleHeader))
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			role, err := enums.ParseOperatorRole(raw)
			if err != nil {
				if logg != nil {
					logg.Debug(logg.WithField(ctx, "role_header", raw), "ignoring unknown operator role")
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx = WithRole(ctx, role)
			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
