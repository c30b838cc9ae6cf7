package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/admission"
	"github.com/DoyleJ11/match-relay/internal/config"
	"github.com/DoyleJ11/match-relay/internal/departure"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/router"
	"github.com/DoyleJ11/match-relay/internal/types"
)

type Server struct {
	reg       *registry.Registry
	admission *admission.Controller
	router    *router.Router
	depart    *departure.Handler
	cfg       config.WSConfig
	log       *zap.Logger
}

func NewServer(reg *registry.Registry, ctl *admission.Controller, rt *router.Router, depart *departure.Handler, cfg config.WSConfig, log *zap.Logger) *Server {
	return &Server{reg: reg, admission: ctl, router: rt, depart: depart, cfg: cfg, log: log}
}

// transport adapts a websocket connection to registry.Transport.
type transport struct {
	conn *websocket.Conn
}

func (t transport) Ping(ctx context.Context) error { return t.conn.Ping(ctx) }

// Close drops the connection without a close handshake; it is used for dead peers.
func (t transport) Close(string) error { return t.conn.CloseNow() }

func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.OriginPatterns,
		})
		if err != nil {
			s.log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		conn.SetReadLimit(s.cfg.ReadLimit)

		c := s.reg.Register(transport{conn: conn})
		log := s.log.With(zap.String("conn_id", c.ID))
		log.Debug("connection accepted", zap.String("remote", r.RemoteAddr))

		ctx, cancel := context.WithCancel(r.Context())
		defer func() {
			cancel()
			s.depart.Depart(c)
			s.reg.Remove(c.ID)
			log.Debug("connection closed")
		}()

		go s.writeLoop(ctx, cancel, conn, c, log)
		c.Send(types.NewConnectionEstablished(c.ID))

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("read failed", zap.Error(err))
					}
				}
				return
			}
			c.MarkAlive()
			s.dispatch(c, data, log)
		}
	}
}

// writeLoop drains the outbox. When the connection is flagged for closing it flushes
// what is left, bounded by CloseGrace, and closes with a normal status.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *registry.Conn, log *zap.Logger) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.Outbox():
			if err := s.write(ctx, conn, msg); err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}
		case <-c.Closing():
			s.flush(ctx, conn, c, log)
			_ = conn.Close(websocket.StatusNormalClosure, c.CloseReason())
			return
		}
	}
}

func (s *Server) flush(ctx context.Context, conn *websocket.Conn, c *registry.Conn, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CloseGrace)
	defer cancel()
	for {
		select {
		case msg := <-c.Outbox():
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug("flush failed", zap.Error(err))
				return
			}
		default:
			return
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

// dispatch handles one inbound frame. Bad frames are answered with an error and
// otherwise ignored; they never end the connection.
func (s *Server) dispatch(c *registry.Conn, data []byte, log *zap.Logger) {
	var m types.ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		s.reject(c, fmt.Errorf("%w: bad json", room.ErrMalformed), log)
		return
	}

	switch m.Type {
	case types.TypeCreateRoom:
		c.Send(s.admission.Create(m.CreatorName, m.Settings()))
		c.CloseAfterFlush("room created")

	case types.TypeJoinRoom:
		if strings.TrimSpace(m.Code) == "" {
			s.reject(c, fmt.Errorf("%w: join_room needs a code", room.ErrMalformed), log)
			return
		}
		if _, err := s.admission.Admit(m.Code, m.PlayerName, c.ID); err != nil {
			// viewer_wait has already been queued by the controller.
			if errors.Is(err, room.ErrNotReady) {
				return
			}
			s.reject(c, err, log)
		}

	case types.TypeGameMessage:
		if strings.TrimSpace(m.Code) == "" || len(m.Message) == 0 {
			s.reject(c, fmt.Errorf("%w: game_message needs code and message", room.ErrMalformed), log)
			return
		}
		if err := s.router.Relay(c.ID, m.Code, m.Message); err != nil {
			s.reject(c, err, log)
		}

	case types.TypeLeaveRoom:
		s.depart.Depart(c)

	case types.TypePing:
		c.Send(types.NewPong(m.Timestamp))

	default:
		s.reject(c, fmt.Errorf("%w: unknown type %q", room.ErrMalformed, m.Type), log)
	}
}

func (s *Server) reject(c *registry.Conn, err error, log *zap.Logger) {
	if errors.Is(err, room.ErrMalformed) {
		log.Warn("malformed message dropped", zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Error(err))
	}
	c.Send(types.NewError(err))
}
