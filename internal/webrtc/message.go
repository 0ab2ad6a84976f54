package webrtc

import (
	"time"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame types carried on the chat data channel.
const (
	TypeJoin  = "join"
	TypeChat  = "chat"
	TypeLeave = "leave"

	// Sent by the room creator about the other participants.
	TypeMemberJoined = "memberJoined"
	TypeMemberLeft   = "memberLeft"
	TypeRoster       = "roster"
)

// Message is the envelope for every data channel frame.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// JoinPayload announces the sender's display name once the link opens.
type JoinPayload struct {
	Name string `msgpack:"name"`
}

type ChatPayload struct {
	ID     uint64 `msgpack:"id"`
	Author string `msgpack:"author"`
	Text   string `msgpack:"text"`
	SentAt int64  `msgpack:"sentAt"`
}

type LeavePayload struct {
	Name string `msgpack:"name"`
}

// MemberPayload names a participant by the id of the creator's link to it.
type MemberPayload struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

// RosterPayload lists the participants present before the receiver joined.
type RosterPayload struct {
	Members []MemberPayload `msgpack:"members"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

// EncodeFrame builds a frame ready to be written to the data channel.
func EncodeFrame(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func DecodeFrame(data []byte) (Message, error) {
	var msg Message
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}

func ChatPayloadFrom(m chat.Message) ChatPayload {
	return ChatPayload{
		ID:     m.ID,
		Author: m.Author,
		Text:   m.Text,
		SentAt: m.SentAt.UnixMilli(),
	}
}

func (p ChatPayload) Message() chat.Message {
	return chat.Message{
		ID:     p.ID,
		Author: p.Author,
		Text:   p.Text,
		SentAt: time.UnixMilli(p.SentAt),
	}
}
