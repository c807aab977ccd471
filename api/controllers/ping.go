package controllers

import (
	"net/http"

	"github.com/angelmondragon/carline-backend/api/middleware"
	"github.com/angelmondragon/carline-backend/api/responses"
)

// Ping echoes the operator role the request declared, which lets a station
// check its header wiring.
func Ping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"status": "ok"}
		if role, ok := middleware.RoleFromContext(r.Context()); ok {
			payload["role"] = string(role)
		}
		responses.WriteSuccess(w, payload)
	}
}
