// Package room holds the per-match state machine: two seats, a spectator set and the
// bookkeeping the relay needs to resync late joiners.
//
// A Room is guarded by its own mutex. Every method except Snapshot expects the caller
// to hold the lock (Lock/Unlock), so that a decision and the mutation it leads to
// happen in one critical section.
package room

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type State string

const (
	StateLobby  State = "lobby"
	StateActive State = "active"
	StateClosed State = "closed"
)

// CodeRole tells which of a room's two codes was presented.
type CodeRole string

const (
	CodePlayer    CodeRole = "player"
	CodeSpectator CodeRole = "spectator"
)

// Role is the part a connection plays in a room.
type Role string

const (
	RoleNone      Role = ""
	RoleSeatA     Role = "seatA"
	RoleSeatB     Role = "seatB"
	RoleSpectator Role = "spectator"
)

// Opponent returns the other seat, or RoleNone for non-seat roles.
func (r Role) Opponent() Role {
	switch r {
	case RoleSeatA:
		return RoleSeatB
	case RoleSeatB:
		return RoleSeatA
	default:
		return RoleNone
	}
}

func (r Role) IsSeat() bool { return r == RoleSeatA || r == RoleSeatB }

type Presence string

const (
	PresenceConnected    Presence = "connected"
	PresenceDisconnected Presence = "disconnected"
)

type Seat struct {
	Name     string
	ConnID   string
	Presence Presence
}

// Populated reports whether a player has ever taken the seat.
func (s Seat) Populated() bool { return s.Name != "" }

// Free reports whether the seat is populated but has no live connection.
func (s Seat) Free() bool { return s.Populated() && s.ConnID == "" }

// Settings is captured at creation and echoed back verbatim; the relay never reads it.
type Settings struct {
	TimeControl json.RawMessage `json:"timeControl,omitempty"`
	TotalGames  int             `json:"totalGames,omitempty"`
	Countdown   int             `json:"countdown,omitempty"`
}

// Players carries the two display names; B is empty while the room is a lobby.
type Players struct {
	A string `json:"a"`
	B string `json:"b,omitempty"`
}

type Room struct {
	ID            string
	PlayerCode    string
	SpectatorCode string
	CreatedAt     time.Time

	mu           sync.Mutex
	state        State
	settings     Settings
	seatA        Seat
	seatB        Seat
	spectators   map[string]string // conn id -> display name
	turn         TurnState
	history      *History
	lastActivity time.Time
}

// New creates a room in the lobby state. The creator owns seat A but is not connected.
func New(id, playerCode, spectatorCode, creatorName string, settings Settings, historySize int, now time.Time) *Room {
	return &Room{
		ID:            id,
		PlayerCode:    playerCode,
		SpectatorCode: spectatorCode,
		CreatedAt:     now,
		state:         StateLobby,
		settings:      settings,
		seatA:         Seat{Name: creatorName, Presence: PresenceDisconnected},
		spectators:    make(map[string]string),
		turn:          newTurnState(),
		history:       NewHistory(historySize),
		lastActivity:  now,
	}
}

func (r *Room) Lock() { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

// RoleOfCode reports which role code c grants in this room.
func (r *Room) RoleOfCode(c string) (CodeRole, bool) {
	switch c {
	case r.PlayerCode:
		return CodePlayer, true
	case r.SpectatorCode:
		return CodeSpectator, true
	default:
		return "", false
	}
}

func (r *Room) State() State { return r.state }
func (r *Room) Settings() Settings { return r.settings }
func (r *Room) LastActivity() time.Time { return r.lastActivity }
func (r *Room) Turn() TurnState { return r.turn.clone() }

func (r *Room) Players() Players {
	return Players{A: r.seatA.Name, B: r.seatB.Name}
}

// Seat returns a copy of the given seat.
func (r *Room) Seat(role Role) Seat {
	switch role {
	case RoleSeatA:
		return r.seatA
	case RoleSeatB:
		return r.seatB
	default:
		return Seat{}
	}
}

func (r *Room) seat(role Role) *Seat {
	switch role {
	case RoleSeatA:
		return &r.seatA
	case RoleSeatB:
		return &r.seatB
	default:
		return nil
	}
}

// Touch bumps the activity timestamp; it never moves backwards.
func (r *Room) Touch(now time.Time) {
	if now.After(r.lastActivity) {
		r.lastActivity = now
	}
}

// Idle reports whether the room has been inactive for longer than threshold.
func (r *Room) Idle(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.lastActivity) > threshold
}

// Activate seats the second player in seat B and moves the room from lobby to active.
func (r *Room) Activate(name, connID string) error {
	if r.state != StateLobby {
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, r.state)
	}
	r.seatB = Seat{Name: name, ConnID: connID, Presence: PresenceConnected}
	r.state = StateActive
	return nil
}

// BindSeat attaches a connection to a populated seat that has none.
func (r *Room) BindSeat(role Role, connID string) error {
	s := r.seat(role)
	if s == nil || !s.Free() {
		return fmt.Errorf("%w: bind %s", ErrInvalidTransition, role)
	}
	if r.state == StateClosed {
		return fmt.Errorf("%w: bind on closed room", ErrInvalidTransition)
	}
	s.ConnID = connID
	s.Presence = PresenceConnected
	return nil
}

// DropSeat detaches the seat's connection. The seat itself and its name stay.
func (r *Room) DropSeat(role Role) {
	if s := r.seat(role); s != nil {
		s.ConnID = ""
		s.Presence = PresenceDisconnected
	}
}

// MatchFreeSeat returns the seat whose name equals name and which has no connection.
func (r *Room) MatchFreeSeat(name string) (Role, bool) {
	for _, role := range []Role{RoleSeatA, RoleSeatB} {
		s := r.seat(role)
		if s.Free() && s.Name == name {
			return role, true
		}
	}
	return RoleNone, false
}

func (r *Room) AddSpectator(connID, name string) error {
	if r.state != StateActive {
		return fmt.Errorf("%w: spectator in %s room", ErrInvalidTransition, r.state)
	}
	if r.RoleOf(connID).IsSeat() {
		return fmt.Errorf("%w: connection already holds a seat", ErrInvalidTransition)
	}
	r.spectators[connID] = name
	return nil
}

// RemoveSpectator reports whether connID was a spectator.
func (r *Room) RemoveSpectator(connID string) bool {
	if _, ok := r.spectators[connID]; !ok {
		return false
	}
	delete(r.spectators, connID)
	return true
}

func (r *Room) ViewerCount() int { return len(r.spectators) }

// RoleOf reports the role connID currently holds in this room.
func (r *Room) RoleOf(connID string) Role {
	if connID == "" {
		return RoleNone
	}
	switch connID {
	case r.seatA.ConnID:
		return RoleSeatA
	case r.seatB.ConnID:
		return RoleSeatB
	}
	if _, ok := r.spectators[connID]; ok {
		return RoleSpectator
	}
	return RoleNone
}

// SeatConn returns the live connection of a seat, if any.
func (r *Room) SeatConn(role Role) (string, bool) {
	s := r.seat(role)
	if s == nil || s.ConnID == "" {
		return "", false
	}
	return s.ConnID, true
}

// SpectatorConns returns the spectator connection ids in a stable order.
func (r *Room) SpectatorConns() []string {
	ids := make([]string, 0, len(r.spectators))
	for id := range r.spectators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Participants returns every live connection: connected seats first, then spectators.
func (r *Room) Participants() []string {
	ids := make([]string, 0, 2+len(r.spectators))
	for _, role := range []Role{RoleSeatA, RoleSeatB} {
		if id, ok := r.SeatConn(role); ok {
			ids = append(ids, id)
		}
	}
	return append(ids, r.SpectatorConns()...)
}

// RecordMove advances the turn state by one move.
func (r *Room) RecordMove(uci string) { r.turn.apply(uci) }

func (r *Room) PushHistory(msg json.RawMessage) { r.history.Push(msg) }

func (r *Room) History() []json.RawMessage { return r.history.Items() }

// Close marks the room closed and returns the connections that were still attached.
// Closing twice returns nil the second time.
func (r *Room) Close() []string {
	if r.state == StateClosed {
		return nil
	}
	ids := r.Participants()
	r.state = StateClosed
	return ids
}

// Info is a point-in-time copy of a room for status queries and diagnostics.
type Info struct {
	ID            string    `json:"id"`
	PlayerCode    string    `json:"playerCode"`
	SpectatorCode string    `json:"spectatorCode"`
	State         State     `json:"state"`
	Players       Players   `json:"players"`
	SeatA         Presence  `json:"seatA"`
	SeatB         Presence  `json:"seatB,omitempty"`
	ViewerCount   int       `json:"viewerCount"`
	Settings      Settings  `json:"settings"`
	Turn          TurnState `json:"turn"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
}

// Info builds a snapshot. The caller holds the lock.
func (r *Room) Info() Info {
	info := Info{
		ID:            r.ID,
		PlayerCode:    r.PlayerCode,
		SpectatorCode: r.SpectatorCode,
		State:         r.state,
		Players:       r.Players(),
		SeatA:         r.seatA.Presence,
		ViewerCount:   len(r.spectators),
		Settings:      r.settings,
		Turn:          r.turn.clone(),
		CreatedAt:     r.CreatedAt,
		LastActivity:  r.lastActivity,
	}
	if r.seatB.Populated() {
		info.SeatB = r.seatB.Presence
	}
	return info
}

// Snapshot takes the lock and returns Info.
func (r *Room) Snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Info()
}
