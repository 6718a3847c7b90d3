package coordinator

import (
	"encoding/json"
	"time"
)

// Kind enumerates the built-in inbound message types. Anything outside the
// closed set is dispatched through the custom handler registry.
type Kind int

const (
	KindRaw Kind = iota // undecodable or missing type
	KindJoin
	KindLeave
	KindBroadcast
	KindReconnect
	KindPing
	KindCustom
)

// Envelope is the decoded form of one inbound frame. Fields carries the full
// object for custom handlers; the typed fields cover the built-in operations.
type Envelope struct {
	Type   string          `json:"type"`
	Room   string          `json:"room,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Token  string          `json:"token,omitempty"`
	Fields map[string]any  `json:"-"`
}

// decodeEnvelope classifies one inbound frame. Malformed JSON is not an error:
// it comes back as KindRaw so the coordinator can fall through to the echo
// path instead of failing the connection.
func decodeEnvelope(data []byte) (Kind, *Envelope) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return KindRaw, &Envelope{Data: data}
	}
	_ = json.Unmarshal(data, &env.Fields)

	switch env.Type {
	case "join":
		return KindJoin, &env
	case "leave":
		return KindLeave, &env
	case "broadcast":
		return KindBroadcast, &env
	case "reconnect":
		return KindReconnect, &env
	case "ping":
		return KindPing, &env
	default:
		return KindCustom, &env
	}
}

func joinedReply(roomName string, members int) map[string]any {
	return map[string]any{"type": "joined", "room": roomName, "members": members}
}

func leftReply(roomName string) map[string]any {
	return map[string]any{"type": "left", "room": roomName}
}

func broadcastReply(roomName string, recipients int) map[string]any {
	return map[string]any{"type": "broadcast_sent", "room": roomName, "recipients": recipients}
}

func reconnectedReply(rooms []string, previousID string) map[string]any {
	return map[string]any{"type": "reconnected", "rooms": rooms, "previous_connection_id": previousID}
}

func pongReply() map[string]any {
	return map[string]any{"type": "pong", "timestamp": time.Now().UTC().Unix()}
}

func connectedGreeting(connectionID string) map[string]any {
	return map[string]any{"type": "connected", "connection_id": connectionID, "timestamp": time.Now().UTC().Unix()}
}

func errorReply(message string) map[string]any {
	return map[string]any{"type": "error", "error": message}
}

func echoReply(originalType string, data any) map[string]any {
	return map[string]any{"type": "response", "original_type": originalType, "data": data}
}
