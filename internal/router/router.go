// Package router forwards game messages between the two seats of a room and mirrors
// the gameplay ones to spectators.
package router

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/types"
)

const KindMove = "move"

// spectatorKinds are the payload kinds spectators are allowed to see.
var spectatorKinds = map[string]bool{
	"move":           true,
	"resign":         true,
	"rematch-offer":  true,
	"rematch-accept": true,
	"rematch_offer":  true,
	"rematch_accept": true,
}

// SpectatorVisible reports whether payloads of this kind are fanned out to spectators.
func SpectatorVisible(kind string) bool { return spectatorKinds[kind] }

type Router struct {
	hub *hub.Hub
	reg *registry.Registry
	log *zap.Logger
	now func() time.Time
}

type Option func(*Router)

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

func New(h *hub.Hub, reg *registry.Registry, log *zap.Logger, opts ...Option) *Router {
	rt := &Router{hub: h, reg: reg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Relay delivers payload from connID to the opposite seat of the room named by code.
// Callers that hold no seat there get ErrNotInRoom or ErrSpectatorReadOnly and
// nothing is sent.
func (rt *Router) Relay(connID, code string, payload json.RawMessage) error {
	r, _, ok := rt.hub.Resolve(code)
	if !ok {
		return fmt.Errorf("relay to %s: %w", code, room.ErrNotInRoom)
	}

	r.Lock()
	defer r.Unlock()

	role := r.RoleOf(connID)
	switch {
	case r.State() == room.StateClosed || role == room.RoleNone:
		return fmt.Errorf("relay to %s: %w", code, room.ErrNotInRoom)
	case role == room.RoleSpectator:
		return fmt.Errorf("relay to %s: %w", code, room.ErrSpectatorReadOnly)
	}

	var msg types.GamePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("relay payload: %w: %v", room.ErrMalformed, err)
	}
	if msg.Kind == "" {
		return fmt.Errorf("relay payload: %w: missing kind", room.ErrMalformed)
	}

	r.Touch(rt.now())
	if msg.Kind == KindMove {
		r.RecordMove(msg.UCI)
	}

	out := types.NewGameMessage(payload)
	if opp, ok := r.SeatConn(role.Opponent()); ok {
		rt.reg.Send(opp, out)
	} else {
		rt.log.Debug("opponent disconnected, message dropped",
			zap.String("room_id", r.ID), zap.String("kind", msg.Kind))
	}
	if SpectatorVisible(msg.Kind) {
		rt.reg.SendAll(r.SpectatorConns(), out)
	}
	r.PushHistory(payload)
	return nil
}
