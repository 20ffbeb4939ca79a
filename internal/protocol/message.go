// Package protocol defines the websocket messages exchanged between the
// signaling server and meshcall clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every websocket frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	TypeJoinRoom = "join-room"
	TypeSignal   = "signal"

	TypeWelcome    = "welcome"
	TypeRoomUsers  = "room-users"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
	TypeError      = "error"
)

// WelcomePayload tells a freshly connected client its connection id.
type WelcomePayload struct {
	SocketID string `json:"socketId"`
}

// JoinRoomPayload is sent by a client that wants to enter a room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

// User describes one room member as seen by other members.
type User struct {
	SocketID string `json:"socketId"`
	UserName string `json:"userName"`
	JoinedAt int64  `json:"joinedAt,omitempty"`
}

// UserLeftPayload names the member that left.
type UserLeftPayload struct {
	UserName string `json:"userName"`
	SocketID string `json:"socketId"`
}

// SignalPayload carries opaque negotiation data between two members of a room.
// FromUser and ToUser hold connection ids; FromName is informational.
type SignalPayload struct {
	RoomID   string          `json:"roomId"`
	Data     json.RawMessage `json:"data"`
	FromUser string          `json:"fromUser,omitempty"`
	FromName string          `json:"fromName,omitempty"`
	ToUser   string          `json:"toUser"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds a Message with payload marshalled as JSON.
func New(t string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Message{Type: t, Payload: b}, nil
}

// MustNew is New for payload types that always marshal.
func MustNew(t string, payload any) *Message {
	m, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

// ErrorMessage builds an error frame.
func ErrorMessage(text string) *Message {
	return MustNew(TypeError, ErrorPayload{Error: text})
}
