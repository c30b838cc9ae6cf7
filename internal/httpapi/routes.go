package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/admission"
	"github.com/DoyleJ11/match-relay/internal/hub"
)

type Deps struct {
	Hub       *hub.Hub
	Admission *admission.Controller
	WS        http.Handler
	Log       *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	r.Post("/rooms", CreateRoom(d.Admission, d.Log))
	r.Get("/rooms", ListRooms(d.Hub))
	r.Get("/rooms/{code}/status", RoomStatus(d.Admission))
	r.Method(http.MethodGet, "/ws", d.WS)
	return r
}
