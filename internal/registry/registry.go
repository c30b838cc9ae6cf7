// Package registry tracks every live client connection: its outbound queue, liveness
// flag and the room it is currently bound to.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/match-relay/internal/room"
)

// Transport is the network side of a connection.
type Transport interface {
	Ping(ctx context.Context) error
	Close(reason string) error
}

// Binding records which room a connection is attached to and in what role. The zero
// value means unbound.
type Binding struct {
	RoomID string
	Code   string
	Role   room.Role
}

func (b Binding) Bound() bool { return b.RoomID != "" }

type Conn struct {
	ID string

	transport Transport
	outbox    chan []byte
	closing   chan struct{}
	closeOnce sync.Once
	reason    string
	alive     atomic.Bool
	log       *zap.Logger

	mu      sync.Mutex
	binding Binding
}

// Send marshals msg and queues it without blocking. A full outbox drops the message.
func (c *Conn) Send(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal outbound message", zap.Error(err))
		return false
	}
	return c.SendRaw(data)
}

// SendRaw queues an already encoded frame.
func (c *Conn) SendRaw(data []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.outbox <- data:
		return true
	default:
		// Slow reader; the message is lost rather than stalling the room.
		c.log.Warn("outbox full, dropping message", zap.Int("bytes", len(data)))
		return false
	}
}

// Outbox is drained by the transport's writer.
func (c *Conn) Outbox() <-chan []byte { return c.outbox }

// CloseAfterFlush asks the writer to deliver what is already queued and then close
// the transport. Later sends are refused.
func (c *Conn) CloseAfterFlush(reason string) {
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closing)
	})
}

// Closing is closed once CloseAfterFlush has been called.
func (c *Conn) Closing() <-chan struct{} { return c.closing }

// CloseReason is only meaningful after Closing has fired.
func (c *Conn) CloseReason() string {
	select {
	case <-c.closing:
		return c.reason
	default:
		return ""
	}
}

func (c *Conn) MarkAlive() { c.alive.Store(true) }

func (c *Conn) Alive() bool { return c.alive.Load() }

// ResetAlive clears the liveness flag and reports whether it was set, i.e. whether the
// connection showed any sign of life since the previous reset.
func (c *Conn) ResetAlive() bool { return c.alive.Swap(false) }

func (c *Conn) Ping(ctx context.Context) error { return c.transport.Ping(ctx) }

// Terminate closes the transport immediately, without flushing.
func (c *Conn) Terminate(reason string) error {
	c.CloseAfterFlush(reason)
	return c.transport.Close(reason)
}

func (c *Conn) Binding() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding
}

func (c *Conn) Bind(b Binding) {
	c.mu.Lock()
	c.binding = b
	c.mu.Unlock()
}

// Unbind clears the binding and returns what it was.
func (c *Conn) Unbind() Binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.binding
	c.binding = Binding{}
	return prev
}

// UnbindRoom clears the binding only if it still points at roomID.
func (c *Conn) UnbindRoom(roomID string) {
	c.mu.Lock()
	if c.binding.RoomID == roomID {
		c.binding = Binding{}
	}
	c.mu.Unlock()
}

type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Conn
	outboxSize int
	log        *zap.Logger
}

func New(outboxSize int, log *zap.Logger) *Registry {
	if outboxSize < 1 {
		outboxSize = 1
	}
	return &Registry{
		conns:      make(map[string]*Conn),
		outboxSize: outboxSize,
		log:        log,
	}
}

// Register creates a connection for t. New connections start alive.
func (r *Registry) Register(t Transport) *Conn {
	id := uuid.NewString()
	c := &Conn{
		ID:        id,
		transport: t,
		outbox:    make(chan []byte, r.outboxSize),
		closing:   make(chan struct{}),
		log:       r.log.With(zap.String("conn_id", id)),
	}
	c.alive.Store(true)

	r.mu.Lock()
	r.conns[id] = c
	r.mu.Unlock()
	return c
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Conns returns a snapshot of every registered connection.
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send queues msg for a single connection; unknown ids are ignored.
func (r *Registry) Send(id string, msg any) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	return c.Send(msg)
}

// SendAll encodes msg once and queues it for every listed connection.
func (r *Registry) SendAll(ids []string, msg any) {
	if len(ids) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("marshal broadcast", zap.Error(err))
		return
	}
	for _, id := range ids {
		if c, ok := r.Get(id); ok {
			c.SendRaw(data)
		}
	}
}

// CloseAll terminates every transport, for shutdown.
func (r *Registry) CloseAll(reason string) error {
	var err error
	for _, c := range r.Conns() {
		err = multierr.Append(err, c.Terminate(reason))
	}
	return err
}
