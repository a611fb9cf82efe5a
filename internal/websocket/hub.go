package websocket

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const broadcastBufferSize = 256

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *MediaChangedMessage
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *MediaChangedMessage, broadcastBufferSize),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToAll(message)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	close(client.send)

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client unregistered")
}

func (h *Hub) broadcastToAll(msg *MediaChangedMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			log.Warn().
				Str("clientId", client.id).
				Msg("[WS] Client send buffer full, dropping message")
		}
	}

	log.Debug().
		Str("reason", msg.Reason).
		Int("recipients", len(clients)).
		Msg("[WS] Media change broadcast complete")
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// MediaChanged queues a refresh notification for every connected client. It never blocks: when
// the queue is full the notification is dropped, and the next one refreshes the same listing.
func (h *Hub) MediaChanged(reason, mediaID string) {
	msg := &MediaChangedMessage{
		Type:    MessageTypeMediaChanged,
		Reason:  reason,
		MediaID: mediaID,
		At:      time.Now().UTC(),
	}
	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("reason", reason).Msg("[WS] Broadcast queue full, dropping media change")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
