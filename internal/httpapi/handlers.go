package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/admission"
	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/types"
)

const maxBodyBytes = 16 << 10

// CreateRoom is the HTTP twin of the create_room websocket message.
func CreateRoom(ctl *admission.Controller, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.ClientMessage
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			log.Warn("bad create room body", zap.Error(err))
			writeError(w, http.StatusBadRequest, room.ErrMalformed)
			return
		}

		writeJSON(w, http.StatusCreated, ctl.Create(req.CreatorName, req.Settings()))
	}
}

// RoomSummary is one row of the diagnostic listing. Access codes are never listed.
type RoomSummary struct {
	ID           string       `json:"id"`
	State        room.State   `json:"state"`
	Players      room.Players `json:"players"`
	ViewerCount  int          `json:"viewerCount"`
	MoveCount    int          `json:"moveCount"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
}

func ListRooms(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := h.Rooms()
		out := make([]RoomSummary, 0, len(rooms))
		for _, rm := range rooms {
			info := rm.Snapshot()
			out = append(out, RoomSummary{
				ID:           info.ID,
				State:        info.State,
				Players:      info.Players,
				ViewerCount:  info.ViewerCount,
				MoveCount:    info.Turn.MoveCount,
				CreatedAt:    info.CreatedAt,
				LastActivity: info.LastActivity,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		writeJSON(w, http.StatusOK, struct {
			Rooms []RoomSummary `json:"rooms"`
		}{Rooms: out})
	}
}

// RoomStatus tells a client what joining with {code} (and optionally ?name=) would do.
func RoomStatus(ctl *admission.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := ctl.Status(chi.URLParam(r, "code"), r.URL.Query().Get("name"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.NewError(err))
}
