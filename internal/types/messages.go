// Package types defines the JSON frames exchanged with relay clients over the websocket.
package types

import (
	"encoding/json"

	"github.com/DoyleJ11/match-relay/internal/room"
)

// Client -> Server
const (
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeGameMessage = "game_message"
	TypeLeaveRoom   = "leave_room"
	TypePing        = "ping"
)

// Server -> Client
const (
	TypeConnectionEstablished = "connection_established"
	TypeRoomCreated           = "room_created"
	TypeViewerWait            = "viewer_wait"
	TypeRoomJoined            = "room_joined"
	TypeViewerUpdate          = "viewer_update"
	TypeGameStart             = "game_start"
	TypeRoomClosed            = "room_closed"
	TypeError                 = "error"
	TypePong                  = "pong"
)

// ClientMessage is the union of every inbound frame; Type selects which fields apply.
type ClientMessage struct {
	Type string `json:"type"`

	// create_room
	CreatorName string          `json:"creatorName,omitempty"`
	TimeControl json.RawMessage `json:"timeControl,omitempty"`
	TotalGames  int             `json:"totalGames,omitempty"`
	Countdown   int             `json:"countdown,omitempty"`

	// join_room, game_message
	Code       string          `json:"code,omitempty"`
	PlayerName string          `json:"playerName,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`

	// ping
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Settings extracts the create_room settings snapshot.
func (m ClientMessage) Settings() room.Settings {
	return room.Settings{TimeControl: m.TimeControl, TotalGames: m.TotalGames, Countdown: m.Countdown}
}

// GamePayload is the only part of a relayed message the server looks at.
type GamePayload struct {
	Kind string `json:"kind"`
	UCI  string `json:"uci,omitempty"`
}

type ConnectionEstablished struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

func NewConnectionEstablished(connID string) ConnectionEstablished {
	return ConnectionEstablished{Type: TypeConnectionEstablished, ConnectionID: connID}
}

type RoomCreated struct {
	Type          string        `json:"type"`
	RoomID        string        `json:"roomId"`
	PlayerCode    string        `json:"playerCode"`
	SpectatorCode string        `json:"spectatorCode"`
	Settings      room.Settings `json:"settings"`
}

func NewRoomCreated(roomID, playerCode, spectatorCode string, settings room.Settings) RoomCreated {
	return RoomCreated{
		Type:          TypeRoomCreated,
		RoomID:        roomID,
		PlayerCode:    playerCode,
		SpectatorCode: spectatorCode,
		Settings:      settings,
	}
}

type ViewerWait struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewViewerWait(message string) ViewerWait {
	return ViewerWait{Type: TypeViewerWait, Message: message}
}

type RoomJoined struct {
	Type        string         `json:"type"`
	RoomID      string         `json:"roomId"`
	Code        string         `json:"code"`
	Role        room.Role      `json:"role"`
	Players     room.Players   `json:"players"`
	Settings    room.Settings  `json:"settings"`
	Turn        room.TurnState `json:"turn"`
	ViewerCount int            `json:"viewerCount"`
	Note        string         `json:"note,omitempty"`
	Waiting     bool           `json:"waiting,omitempty"`
}

// NewRoomJoined describes r as seen by a connection just admitted with role. The
// caller holds the room lock.
func NewRoomJoined(r *room.Room, code string, role room.Role) RoomJoined {
	return RoomJoined{
		Type:        TypeRoomJoined,
		RoomID:      r.ID,
		Code:        code,
		Role:        role,
		Players:     r.Players(),
		Settings:    r.Settings(),
		Turn:        r.Turn(),
		ViewerCount: r.ViewerCount(),
	}
}

type ViewerUpdate struct {
	Type        string `json:"type"`
	ViewerCount int    `json:"viewerCount"`
}

func NewViewerUpdate(count int) ViewerUpdate {
	return ViewerUpdate{Type: TypeViewerUpdate, ViewerCount: count}
}

type GameStart struct {
	Type        string         `json:"type"`
	RoomID      string         `json:"roomId"`
	Players     room.Players   `json:"players"`
	Settings    room.Settings  `json:"settings"`
	Turn        room.TurnState `json:"turn"`
	ViewerCount int            `json:"viewerCount"`
}

// NewGameStart snapshots r for a (re)sync broadcast. The caller holds the room lock.
func NewGameStart(r *room.Room) GameStart {
	return GameStart{
		Type:        TypeGameStart,
		RoomID:      r.ID,
		Players:     r.Players(),
		Settings:    r.Settings(),
		Turn:        r.Turn(),
		ViewerCount: r.ViewerCount(),
	}
}

type GameMessage struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

func NewGameMessage(payload json.RawMessage) GameMessage {
	return GameMessage{Type: TypeGameMessage, Message: payload}
}

type RoomClosed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewRoomClosed(reason string) RoomClosed {
	return RoomClosed{Type: TypeRoomClosed, Reason: reason}
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error frame; the code comes from room.ErrorCode.
func NewError(err error) Error {
	return Error{Type: TypeError, Code: room.ErrorCode(err), Message: err.Error()}
}

type Pong struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func NewPong(ts json.RawMessage) Pong {
	return Pong{Type: TypePong, Timestamp: ts}
}
