package controllers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/carline-backend/internal/broadcast"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

const streamBufferSize = 1024

// CarStatusStream upgrades the request to a websocket and hands it to the
// hub. The connection is push only; anything the client sends is dropped.
func CarStatusStream(hub *broadcast.Hub, allowedOrigins []string, logg *logger.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  streamBufferSize,
		WriteBufferSize: streamBufferSize,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered with an HTTP error.
			if logg != nil {
				logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "websocket upgrade rejected")
			}
			return
		}
		if err := hub.Serve(r.Context(), conn); err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "websocket session ended")
		}
	}
}

// originChecker accepts requests without an Origin header (non-browser
// stations), same-host origins, and the configured list. "*" accepts all.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}
