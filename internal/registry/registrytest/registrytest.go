// Package registrytest provides an in-memory Transport and helpers for reading what a
// connection was sent.
package registrytest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/match-relay/internal/registry"
)

var ErrPingFailed = errors.New("ping failed")

// Transport records pings and closes. Ping fails while Unresponsive is set.
type Transport struct {
	mu           sync.Mutex
	unresponsive bool
	pings        int
	closed       bool
	closeReason  string
}

func (t *Transport) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pings++
	if t.unresponsive || t.closed {
		return ErrPingFailed
	}
	return nil
}

func (t *Transport) Close(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeReason = reason
	return nil
}

func (t *Transport) SetUnresponsive(v bool) {
	t.mu.Lock()
	t.unresponsive = v
	t.mu.Unlock()
}

func (t *Transport) Pings() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *Transport) Closed() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeReason
}

// Frame is a decoded outbound message with its raw bytes.
type Frame struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the frame into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Raw, v); err != nil {
		t.Fatalf("decode %s frame: %v", f.Type, err)
	}
}

// Recv returns the next queued frame, failing the test if none arrives in time.
func Recv(t *testing.T, c *registry.Conn, within time.Duration) Frame {
	t.Helper()
	select {
	case data := <-c.Outbox():
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			t.Fatalf("outbound frame is not JSON: %v", err)
		}
		return Frame{Type: head.Type, Raw: data}
	case <-time.After(within):
		t.Fatalf("timed out waiting for a message on %s", c.ID)
		return Frame{} // unreachable
	}
}

// RecvType is Recv plus an assertion on the frame type.
func RecvType(t *testing.T, c *registry.Conn, want string, within time.Duration) Frame {
	t.Helper()
	f := Recv(t, c, within)
	if f.Type != want {
		t.Fatalf("conn %s: want %q frame, got %q: %s", c.ID, want, f.Type, f.Raw)
	}
	return f
}

// RecvNone fails if anything is queued for c within the window.
func RecvNone(t *testing.T, c *registry.Conn, within time.Duration) {
	t.Helper()
	select {
	case data := <-c.Outbox():
		t.Fatalf("conn %s: expected no message within %v, got %s", c.ID, within, data)
	case <-time.After(within):
	}
}
