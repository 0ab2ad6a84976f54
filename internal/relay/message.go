// Package relay is the store-and-forward alternative to peer-to-peer links:
// a WebSocket hub that fans chat messages out to every named connection,
// and the client used to talk to it.
package relay

import (
	"encoding/json"
	"time"
)

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// client is the client that sent the message.
	// It's used internally by the Hub and not sent over JSON.
	client *Client
}

// Event types.
const (
	// C2S
	EventUserJoin = "userJoin"

	// C2S and S2C
	EventMessage = "message"

	// S2C
	EventUserJoined   = "userJoined"
	EventUserLeft     = "userLeft"
	EventCurrentUsers = "currentUsers"
	EventError        = "error"
)

type UserJoinPayload struct {
	UserName string `json:"userName"`
}

type ChatPayload struct {
	ID     uint64    `json:"id"`
	Author string    `json:"author"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// PresencePayload accompanies userJoined and userLeft.
type PresencePayload struct {
	ID          string `json:"id"`
	UserName    string `json:"userName"`
	OnlineCount int    `json:"onlineCount"`
}

type User struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}

// CurrentUsersPayload is sent to a client right after it joins. Self is the
// id the hub assigned to the receiving connection.
type CurrentUsersPayload struct {
	Self  string   `json:"self"`
	Names []string `json:"names"`
	Users []User   `json:"users"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage marshals payload into a Message of type t.
func NewMessage(t string, payload any) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: t, Payload: b}, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}
