// Package hub is the process-wide room store: every live room is reachable by its id
// and by both of its access codes.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/match-relay/internal/code"
	"github.com/DoyleJ11/match-relay/internal/room"
)

type Hub struct {
	mu          sync.RWMutex
	byCode      map[string]*room.Room
	byID        map[string]*room.Room
	historySize int
	now         func() time.Time
}

type Option func(*Hub)

// WithClock overrides time.Now for room creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func NewHub(historySize int, opts ...Option) *Hub {
	h := &Hub{
		byCode:      make(map[string]*room.Room),
		byID:        make(map[string]*room.Room),
		historySize: historySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateLobby registers a new lobby under two fresh codes that resolve to it alone.
func (h *Hub) CreateLobby(creatorName string, settings room.Settings) (*room.Room, string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	playerCode, spectatorCode := code.Pair(func(c string) bool {
		_, taken := h.byCode[c]
		return taken
	})
	r := room.New(uuid.NewString(), playerCode, spectatorCode, creatorName, settings, h.historySize, h.now())

	h.byCode[playerCode] = r
	h.byCode[spectatorCode] = r
	h.byID[r.ID] = r
	return r, playerCode, spectatorCode
}

// Resolve looks a code up (case-insensitively) and reports which role it grants.
func (h *Hub) Resolve(c string) (*room.Room, room.CodeRole, bool) {
	c = code.Normalize(c)

	h.mu.RLock()
	r, ok := h.byCode[c]
	h.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	role, _ := r.RoleOfCode(c)
	return r, role, true
}

func (h *Hub) Get(id string) (*room.Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.byID[id]
	return r, ok
}

// Destroy removes the room and both its codes in one critical section. It is a
// no-op for rooms that are already gone.
func (h *Hub) Destroy(r *room.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.byID[r.ID] != r {
		return
	}
	delete(h.byID, r.ID)
	delete(h.byCode, r.PlayerCode)
	delete(h.byCode, r.SpectatorCode)
}

// Rooms returns a snapshot of the live rooms; callers may lock rooms while iterating.
func (h *Hub) Rooms() []*room.Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms := make([]*room.Room, 0, len(h.byID))
	for _, r := range h.byID {
		rooms = append(rooms, r)
	}
	return rooms
}

// ForEach calls fn for every live room until fn returns false. The store lock is
// not held while fn runs.
func (h *Hub) ForEach(fn func(*room.Room) bool) {
	for _, r := range h.Rooms() {
		if !fn(r) {
			return
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Taken reports whether c currently resolves to a room.
func (h *Hub) Taken(c string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byCode[code.Normalize(c)]
	return ok
}
