package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

var upgrader = websocket.Upgrader{
	// Origin checking is a deployment-specific concern (reverse proxy /
	// same-origin policy); left permissive here the way the retrieval
	// pack's own websocket example does for its dev server.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS implements GET /ws/chat: upgrades the connection and registers
// it with the Live Delivery Channel under the authenticated user's id
// (§4.I). The read loop exists only to detect disconnect — this endpoint
// is push-only from the gateway's side.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if s.Live == nil {
		writeError(w, model.NewError(model.KindFatal, "live delivery channel not configured", nil))
		return
	}

	uid := userID(r.Context())
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("httpapi", "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	unregister := s.Live.Register(uid, ws)
	defer unregister()
	defer ws.Close()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
