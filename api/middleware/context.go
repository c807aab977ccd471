package middleware

import (
	"context"

	"github.com/angelmondragon/carline-backend/pkg/enums"
)

type contextKey string

const ctxRole contextKey = "actor_role"

// RoleFromContext returns the operator role declared on the request, if any.
func RoleFromContext(ctx context.Context) (enums.OperatorRole, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(ctxRole).(enums.OperatorRole)
	return v, ok
}

// WithRole injects the declared operator role into the context.
func WithRole(ctx context.Context, role enums.OperatorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}
