package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/stride/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and streams the
// caller's live-sync messages. originPatterns restricts cross-origin
// upgrades; an empty list allows same-origin only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := auth.UserID(r.Context())
		if ownerID == 0 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, ownerID).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
