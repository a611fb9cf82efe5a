package websocket

import (
	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.FastHTTPUpgrader
}

// NewHandler accepts connections whose Origin passes originAllowed. A nil originAllowed accepts
// every origin.
func NewHandler(hub *Hub, originAllowed func(origin string) bool) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.FastHTTPUpgrader{
			CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
				origin := string(ctx.Request.Header.Peek("Origin"))
				return origin == "" || originAllowed == nil || originAllowed(origin)
			},
		},
	}
}

// HandleFastHTTP handles GET /ws
func (h *Handler) HandleFastHTTP(ctx *fasthttp.RequestCtx) {
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := NewClient(h.hub, conn)
		h.hub.Register(client)

		client.send <- &OutgoingMessage{
			Type:     MessageTypeConnected,
			ClientID: client.id,
		}

		log.Info().Str("clientId", client.id).Msg("[WS] Client connected")

		go client.WritePump()
		client.ReadPump()
	})

	if err != nil {
		log.Error().Err(err).Msg("[WS] Failed to upgrade connection")
		return
	}
}
