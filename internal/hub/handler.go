package hub

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins
		return true
	},
}

// ServeWS upgrades the request and attaches a client to the hub.
// ?sport=Football,Tennis sets the initial filter. ctx bounds the client pumps.
func (h *Hub) ServeWS(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("WebSocket upgrade error")
			return
		}

		var filter SubscriptionFilter
		if sports := r.URL.Query().Get("sport"); sports != "" {
			for _, s := range strings.Split(sports, ",") {
				if s = strings.TrimSpace(s); s != "" {
					filter.Sports = append(filter.Sports, s)
				}
			}
		}

		c := NewClient(uuid.New().String(), conn, h, filter)
		h.Register(c)

		// Pumps outlive the request, so they take the server context
		go c.WritePump(ctx)
		go c.ReadPump(ctx)
	}
}
