// Package protocol defines the JSON frames exchanged over the
// signaling websocket. Every frame carries a "type" discriminator;
// handshake payloads stay opaque to the server and are relayed as-is.
package protocol

import (
	"encoding/json"

	"github.com/yaswanth-hue/jamroom/internal/domain"
)

// Client to server.
const (
	TypeCreateRoom     = "create-room"
	TypeJoinRoom       = "join-room"
	TypeMuteStatus     = "mute-status"
	TypeSendingSignal  = "sending-signal"
	TypeReturnedSignal = "receiving-returned-signal"
)

// Server to client. TypeReturnedSignal is used in both directions.
const (
	TypeWelcome      = "welcome"
	TypeRoomList     = "room-list"
	TypeParticipants = "participants-list"
	TypeUserJoined   = "user-joined"
	TypeCallOffer    = "call-offer"
	TypeUserLeft     = "user-left"
)

// Envelope is the minimal decode used to dispatch a frame.
type Envelope struct {
	Type string `json:"type"`
}

type CreateRoom struct {
	Type     string `json:"type"`
	RoomName string `json:"roomName"`
}

type JoinRoom struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type MuteStatus struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	IsMuted bool   `json:"isMuted"`
}

// SendingSignal routes a handshake offer to one connection. Routing is
// by connection id only; the server does not check room membership.
type SendingSignal struct {
	Type         string          `json:"type"`
	UserToSignal string          `json:"userToSignal"`
	CallerID     string          `json:"callerID"`
	Signal       json.RawMessage `json:"signal"`
}

// ReturnedSignal routes a handshake answer back to the caller. On the
// server-to-client leg CallerID names the answering connection.
type ReturnedSignal struct {
	Type     string          `json:"type"`
	Signal   json.RawMessage `json:"signal"`
	CallerID string          `json:"callerID"`
}

// Welcome tells a fresh connection its own id, the ws equivalent of
// the transport handing out a socket id.
type Welcome struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type RoomList struct {
	Type  string        `json:"type"`
	Rooms []domain.Room `json:"rooms"`
}

type ParticipantsList struct {
	Type         string               `json:"type"`
	RoomID       string               `json:"roomId"`
	Participants []domain.Participant `json:"participants"`
}

// UserJoined announces a newcomer to the other members of a room.
// Call offers travel separately as CallOffer.
type UserJoined struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// CallOffer delivers a relayed handshake offer to its target.
type CallOffer struct {
	Type     string          `json:"type"`
	Signal   json.RawMessage `json:"signal"`
	CallerID string          `json:"callerID"`
}

type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}
