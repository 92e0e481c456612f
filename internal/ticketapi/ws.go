package ticketapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/triagehub/internal/wshub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is served from arbitrary origins in dev; subscriptions
	// carry no credentials and expose the same data as GET /tickets.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (a *API) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		a.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	a.logger.Info(r.Context(), "websocket client connected", "remote", conn.RemoteAddr().String())
	a.hub.Serve(r.Context(), wshub.NewGorillaTransport(conn))
	a.logger.Info(r.Context(), "websocket client disconnected", "remote", conn.RemoteAddr().String())
}
