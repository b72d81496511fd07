// Package protocol defines the JSON messages exchanged over the signaling
// socket and the application payloads peers tunnel through relay.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/omnio/internal/domain"
)

const (
	TypeWelcome   = "welcome"
	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
	TypeSignal    = "signal"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeError     = "error"
)

// Envelope is the union of every client→server message. Fields not used by
// a given Type are left empty.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Welcome struct {
	Type     string          `json:"type"`
	ClientID domain.ClientID `json:"clientId"`
}

type JoinRoom struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type LeaveRoom struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

// SignalIn is sent by a client to have Payload relayed to the room.
type SignalIn struct {
	Type    string          `json:"type"`
	RoomID  domain.RoomID   `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// SignalOut is what every other member of the room receives.
type SignalOut struct {
	Type    string          `json:"type"`
	From    domain.ClientID `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type Pong struct {
	Type string `json:"type"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewWelcome(id domain.ClientID) Welcome { return Welcome{Type: TypeWelcome, ClientID: id} }

func NewJoinRoom(room domain.RoomID) JoinRoom { return JoinRoom{Type: TypeJoinRoom, RoomID: room} }

func NewLeaveRoom(room domain.RoomID) LeaveRoom { return LeaveRoom{Type: TypeLeaveRoom, RoomID: room} }

func NewSignalIn(room domain.RoomID, payload json.RawMessage) SignalIn {
	return SignalIn{Type: TypeSignal, RoomID: room, Payload: payload}
}

func NewSignalOut(from domain.ClientID, payload json.RawMessage) SignalOut {
	return SignalOut{Type: TypeSignal, From: from, Payload: payload}
}

func NewError(msg string) Error { return Error{Type: TypeError, Error: msg} }

// Encode marshals any message into a frame-ready byte slice.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode reads the discriminator and the common fields of an incoming message.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
