// Package events defines the frames exchanged on the real-time channel.
//
// Every frame after authentication is an Envelope. The first frame a client
// sends is an Auth payload; the server answers with a "connected" or an
// "error" envelope.
package events

import "encoding/json"

// Event names
const (
	UserStatusChange = "user_status_change"
	ReceiveMessage   = "receive_message"
	NewMessage       = "new_message"
	Connected        = "connected"
	Error            = "error"
)

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Auth is the first frame sent by a client.
type Auth struct {
	Token string `json:"token"`
}

// StatusChange is the payload of user_status_change.
type StatusChange struct {
	UserID uint   `json:"userId"`
	Status string `json:"status"`
}

// ConnectedPayload acknowledges a successful handshake.
type ConnectedPayload struct {
	UserID uint `json:"userId"`
}

// ErrorPayload carries a handshake or protocol error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessageRef is what the server reads from a new_message frame. Only the id
// is trusted; the rest is reloaded from the store.
type MessageRef struct {
	ID uint `json:"id"`
}

// Encode marshals payload into an envelope frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
