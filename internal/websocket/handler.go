package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/middleware"
	"github.com/neboloop/wabot/internal/realtime"
)

// Options controls who may open an observer socket.
type Options struct {
	// AuthSecret enables HS256 token checks when set.
	AuthSecret string
	// AllowedOrigins are accepted in addition to localhost and same-origin.
	AllowedOrigins []string
}

// Handler returns an HTTP handler function for WebSocket upgrades
func Handler(hub *realtime.Hub, opts Options) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(r.Header.Get("Origin"), opts.AllowedOrigins)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := middleware.Authenticate(r, opts.AuthSecret)
		if err != nil {
			logging.Infof("[websocket] Connection rejected from %s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		clientID := "client-" + uuid.New().String()[:8]
		if sub != "" {
			logging.Infof("[websocket] Serving %s for %s", clientID, sub)
		}

		// Upgrade writes its own error response, including 403 for bad origins.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnf("[websocket] Upgrade error: %v", err)
			return
		}

		realtime.ServeWS(hub, conn, clientID)
	}
}
