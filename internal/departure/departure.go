// Package departure detaches a connection from its room. Explicit leave, socket close
// and liveness eviction all go through Depart.
package departure

import (
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/types"
)

type Handler struct {
	hub *hub.Hub
	reg *registry.Registry
	log *zap.Logger
}

func New(h *hub.Hub, reg *registry.Registry, log *zap.Logger) *Handler {
	return &Handler{hub: h, reg: reg, log: log}
}

// Depart removes c from whatever room it is bound to. A spectator leaving triggers a
// viewer_update to everyone left; a seat is only marked disconnected so its owner can
// come back under the same name. Unbound connections are ignored; c is always
// unbound afterwards.
func (d *Handler) Depart(c *registry.Conn) {
	b := c.Binding()
	if !b.Bound() {
		return
	}
	r, ok := d.hub.Get(b.RoomID)
	if !ok {
		c.UnbindRoom(b.RoomID)
		return
	}

	r.Lock()
	defer r.Unlock()
	d.DepartLocked(r, c)
}

// DepartLocked is Depart for a caller that already holds r's lock.
func (d *Handler) DepartLocked(r *room.Room, c *registry.Conn) {
	log := d.log.With(zap.String("conn_id", c.ID), zap.String("room_id", r.ID))

	switch role := r.RoleOf(c.ID); role {
	case room.RoleSpectator:
		r.RemoveSpectator(c.ID)
		d.reg.SendAll(r.Participants(), types.NewViewerUpdate(r.ViewerCount()))
		log.Debug("spectator left", zap.Int("viewers", r.ViewerCount()))
	case room.RoleSeatA, room.RoleSeatB:
		r.DropSeat(role)
		log.Info("seat disconnected", zap.String("role", string(role)))
	}
	c.UnbindRoom(r.ID)
}
