// Package admission decides what happens when a connection presents a room code, and
// creates lobbies for first players.
package admission

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/code"
	"github.com/DoyleJ11/match-relay/internal/departure"
	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/types"
)

const (
	DefaultPlayerName    = "Player"
	DefaultSpectatorName = "Spectator"

	viewerWaitMessage = "The game has not started yet. Try again once both players are in."
	fallbackNote      = "Both seats are taken; you joined as a spectator."
)

type Controller struct {
	hub    *hub.Hub
	reg    *registry.Registry
	depart *departure.Handler
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Controller)

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(h *hub.Hub, reg *registry.Registry, depart *departure.Handler, log *zap.Logger, opts ...Option) *Controller {
	c := &Controller{hub: h, reg: reg, depart: depart, log: log, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result describes a successful admission.
type Result struct {
	Outcome Outcome
	RoomID  string
	Role    room.Role
}

// Create opens a lobby for creatorName. No connection is bound: the creator comes back
// later with the player code.
func (a *Controller) Create(creatorName string, settings room.Settings) types.RoomCreated {
	name := room.NormalizeName(creatorName, DefaultPlayerName)
	r, playerCode, spectatorCode := a.hub.CreateLobby(name, settings)

	a.log.Info("room created",
		zap.String("room_id", r.ID),
		zap.String("player_code", playerCode),
		zap.String("spectator_code", spectatorCode),
	)
	return types.NewRoomCreated(r.ID, playerCode, spectatorCode, settings)
}

// Admit runs the admission table for connID presenting c under displayName. Replies
// and broadcasts are queued before Admit returns. A viewer_wait reply is also queued
// before ErrNotReady is returned; other errors are left for the caller to report.
// A rejected attempt leaves the connection's current binding alone.
func (a *Controller) Admit(c, displayName, connID string) (Result, error) {
	conn, ok := a.reg.Get(connID)
	if !ok {
		return Result{}, fmt.Errorf("admit %s: unknown connection", connID)
	}
	r, codeRole, ok := a.hub.Resolve(c)
	if !ok {
		return Result{}, fmt.Errorf("admit %s: %w", code.Normalize(c), room.ErrCodeNotFound)
	}
	c = code.Normalize(c)

	fallback := DefaultPlayerName
	if codeRole == room.CodeSpectator {
		fallback = DefaultSpectatorName
	}
	name := room.NormalizeName(displayName, fallback)
	// Nameless joiners never claim a seat by name.
	anonymous := room.NormalizeName(displayName, "") == ""

	r.Lock()
	defer r.Unlock()

	for {
		match := MatchNone
		if !anonymous {
			match = matchOf(r, codeRole, name)
		}
		outcome := Decide(r.State(), codeRole, match)
		if !outcome.Admitted() {
			return a.reject(r, conn, c, outcome)
		}

		b := conn.Binding()
		switch {
		case !b.Bound():
			return a.admitLocked(r, conn, c, name, outcome)

		case b.RoomID != r.ID:
			// Departure locks the old room, and two room locks are never held at once.
			r.Unlock()
			a.depart.Depart(conn)
			r.Lock()

		case sameKind(r.RoleOf(conn.ID), codeRole, outcome):
			role := r.RoleOf(conn.ID)
			conn.Send(types.NewRoomJoined(r, c, role))
			r.Touch(a.now())
			return Result{Outcome: OutcomeRejoin, RoomID: r.ID, Role: role}, nil

		default:
			a.depart.DepartLocked(r, conn)
		}
	}
}

func (a *Controller) reject(r *room.Room, conn *registry.Conn, c string, outcome Outcome) (Result, error) {
	if outcome != OutcomeViewerWait {
		return Result{Outcome: outcome}, fmt.Errorf("admit %s: %w", c, room.ErrCodeNotFound)
	}
	conn.Send(types.NewViewerWait(viewerWaitMessage))
	// Only a connection with nothing else going on is sent away.
	if !conn.Binding().Bound() {
		conn.CloseAfterFlush("game not started")
	}
	a.log.Debug("spectator arrived before game start",
		zap.String("conn_id", conn.ID), zap.String("room_id", r.ID))
	return Result{Outcome: outcome, RoomID: r.ID}, fmt.Errorf("admit %s: %w", c, room.ErrNotReady)
}

// admitLocked applies an admitting outcome for an unbound connection. The caller
// holds the room lock.
func (a *Controller) admitLocked(r *room.Room, conn *registry.Conn, c, name string, outcome Outcome) (Result, error) {
	var (
		role  room.Role
		reply types.RoomJoined
	)
	switch outcome {
	case OutcomeRebindCreator:
		role = room.RoleSeatA
		if err := r.BindSeat(role, conn.ID); err != nil {
			return Result{}, err
		}
		reply = types.NewRoomJoined(r, c, role)
		reply.Waiting = true
		conn.Send(reply)

	case OutcomeActivate:
		role = room.RoleSeatB
		if err := r.Activate(name, conn.ID); err != nil {
			return Result{}, err
		}
		conn.Send(types.NewRoomJoined(r, c, role))
		a.reg.SendAll(others(r.Participants(), conn.ID), types.NewGameStart(r))

	case OutcomeReconnect:
		role, _ = r.MatchFreeSeat(name)
		if err := r.BindSeat(role, conn.ID); err != nil {
			return Result{}, err
		}
		conn.Send(types.NewRoomJoined(r, c, role))
		a.reg.SendAll(others(r.Participants(), conn.ID), types.NewGameStart(r))

	case OutcomeSpectate, OutcomeSpectatorFallback:
		role = room.RoleSpectator
		if err := r.AddSpectator(conn.ID, name); err != nil {
			return Result{}, err
		}
		reply = types.NewRoomJoined(r, c, role)
		if outcome == OutcomeSpectatorFallback {
			reply.Note = fallbackNote
		}
		conn.Send(reply)
		a.reg.SendAll(r.Participants(), types.NewViewerUpdate(r.ViewerCount()))

	default:
		return Result{}, fmt.Errorf("admit %s: unexpected outcome %s", c, outcome)
	}

	conn.Bind(registry.Binding{RoomID: r.ID, Code: c, Role: role})
	r.Touch(a.now())
	a.log.Info("admitted",
		zap.String("conn_id", conn.ID),
		zap.String("room_id", r.ID),
		zap.String("code", c),
		zap.String("outcome", string(outcome)),
		zap.String("role", string(role)),
		zap.String("name", name),
	)
	return Result{Outcome: outcome, RoomID: r.ID, Role: role}, nil
}

// sameKind reports whether a connection already holding role in a room would end up
// in the same kind of role again.
func sameKind(role room.Role, codeRole room.CodeRole, outcome Outcome) bool {
	switch {
	case role.IsSeat():
		return codeRole == room.CodePlayer
	case role == room.RoleSpectator:
		return codeRole == room.CodeSpectator || outcome == OutcomeSpectatorFallback
	default:
		return false
	}
}

// Status is the read-only view used by clients polling before they connect.
type Status struct {
	RoomID      string        `json:"roomId"`
	State       room.State    `json:"state"`
	CodeRole    room.CodeRole `json:"codeRole"`
	Players     room.Players  `json:"players"`
	ViewerCount int           `json:"viewerCount"`
	Outcome     Outcome       `json:"outcome"`
	Admissible  bool          `json:"admissible"`
}

// Status reports what Admit would do for (c, displayName) right now, without
// changing anything.
func (a *Controller) Status(c, displayName string) (Status, error) {
	r, codeRole, ok := a.hub.Resolve(c)
	if !ok {
		return Status{}, fmt.Errorf("status %s: %w", code.Normalize(c), room.ErrCodeNotFound)
	}

	r.Lock()
	defer r.Unlock()

	if r.State() == room.StateClosed {
		return Status{}, fmt.Errorf("status %s: %w", code.Normalize(c), room.ErrCodeNotFound)
	}
	match := MatchNone
	if room.NormalizeName(displayName, "") != "" {
		match = matchOf(r, codeRole, room.NormalizeName(displayName, DefaultPlayerName))
	}
	outcome := Decide(r.State(), codeRole, match)
	return Status{
		RoomID:      r.ID,
		State:       r.State(),
		CodeRole:    codeRole,
		Players:     r.Players(),
		ViewerCount: r.ViewerCount(),
		Outcome:     outcome,
		Admissible:  outcome.Admitted(),
	}, nil
}

func others(ids []string, exclude string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
