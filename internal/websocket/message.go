package websocket

import "time"

type MessageType string

const (
	MessageTypeConnected    MessageType = "connected"
	MessageTypeMediaChanged MessageType = "media.changed"
	MessageTypePing         MessageType = "ping"
	MessageTypePong         MessageType = "pong"
)

type IncomingMessage struct {
	Type MessageType `json:"type"`
}

type OutgoingMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId,omitempty"`
}

// MediaChangedMessage tells clients to reload the media listing.
type MediaChangedMessage struct {
	Type    MessageType `json:"type"`
	Reason  string      `json:"reason"`
	MediaID string      `json:"mediaId,omitempty"`
	At      time.Time   `json:"at"`
}
