// Package sweeper periodically evicts dead connections and reclaims idle rooms.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/config"
	"github.com/DoyleJ11/match-relay/internal/departure"
	"github.com/DoyleJ11/match-relay/internal/hub"
	"github.com/DoyleJ11/match-relay/internal/registry"
	"github.com/DoyleJ11/match-relay/internal/room"
	"github.com/DoyleJ11/match-relay/internal/types"
)

const (
	ReasonIdle     = "idle timeout"
	ReasonShutdown = "server shutting down"
	reasonNoPong   = "liveness timeout"
)

type Sweeper struct {
	hub    *hub.Hub
	reg    *registry.Registry
	depart *departure.Handler
	cfg    config.SweeperConfig
	log    *zap.Logger
	now    func() time.Time

	// pings tracks in-flight pings so tests and shutdown can wait for them.
	pings sync.WaitGroup
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(h *hub.Hub, reg *registry.Registry, depart *departure.Handler, cfg config.SweeperConfig, log *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{hub: h, reg: reg, depart: depart, cfg: cfg, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every cfg.Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("idle_threshold", s.cfg.IdleThreshold),
	)
	for {
		select {
		case <-ctx.Done():
			s.pings.Wait()
			return nil
		case <-ticker.C:
			s.Sweep(s.now())
		}
	}
}

// Sweep runs one cycle: connection liveness first, then room reclamation.
func (s *Sweeper) Sweep(now time.Time) {
	evicted := s.checkConnections()
	closed := s.reclaim(now)
	if evicted > 0 || closed > 0 {
		s.log.Info("sweep finished", zap.Int("evicted", evicted), zap.Int("rooms_closed", closed))
	}
}

// Wait blocks until pings issued by previous sweeps have completed.
func (s *Sweeper) Wait() { s.pings.Wait() }

// checkConnections evicts every connection that showed no sign of life since the
// previous cycle and pings the rest.
func (s *Sweeper) checkConnections() int {
	evicted := 0
	for _, c := range s.reg.Conns() {
		if !c.ResetAlive() {
			s.evict(c)
			evicted++
			continue
		}
		s.pings.Add(1)
		go func(c *registry.Conn) {
			defer s.pings.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PingTimeout)
			defer cancel()
			if err := c.Ping(ctx); err != nil {
				s.log.Debug("ping failed", zap.String("conn_id", c.ID), zap.Error(err))
				return
			}
			c.MarkAlive()
		}(c)
	}
	return evicted
}

func (s *Sweeper) evict(c *registry.Conn) {
	s.depart.Depart(c)
	s.reg.Remove(c.ID)
	if err := c.Terminate(reasonNoPong); err != nil {
		s.log.Debug("terminate transport", zap.String("conn_id", c.ID), zap.Error(err))
	}
	s.log.Info("connection evicted", zap.String("conn_id", c.ID))
}

func (s *Sweeper) reclaim(now time.Time) int {
	closed := 0
	s.hub.ForEach(func(r *room.Room) bool {
		r.Lock()
		idle := r.Idle(now, s.cfg.IdleThreshold)
		if idle {
			s.closeLocked(r, ReasonIdle)
		}
		r.Unlock()
		if idle {
			s.hub.Destroy(r)
			closed++
		}
		return true
	})
	return closed
}

// CloseRoom ends r now: every connected participant gets room_closed and its transport
// is closed once that has been flushed. Both codes stop resolving.
func (s *Sweeper) CloseRoom(r *room.Room, reason string) {
	r.Lock()
	s.closeLocked(r, reason)
	r.Unlock()
	s.hub.Destroy(r)
}

// CloseAll closes every live room, for shutdown.
func (s *Sweeper) CloseAll(reason string) {
	for _, r := range s.hub.Rooms() {
		s.CloseRoom(r, reason)
	}
}

func (s *Sweeper) closeLocked(r *room.Room, reason string) {
	ids := r.Close()
	s.reg.SendAll(ids, types.NewRoomClosed(reason))
	for _, id := range ids {
		if c, ok := s.reg.Get(id); ok {
			c.UnbindRoom(r.ID)
			c.CloseAfterFlush(reason)
		}
	}
	s.log.Info("room closed",
		zap.String("room_id", r.ID),
		zap.String("reason", reason),
		zap.Int("participants", len(ids)),
	)
}
