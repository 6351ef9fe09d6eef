// Package registry tracks the single live WebSocket connection for
// each device id currently attached to the Hub (spec §4.2). It is
// grounded on the teacher's Hub.rooms bookkeeping in
// internal/v1/transport/hub.go, narrowed from "map of rooms" to "map
// of device connections" since this Hub relays bytes between exactly
// two peers rather than broadcasting to a room of participants.
package registry

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the registry needs, so tests
// can substitute a fake.
type Conn interface {
	Close() error
}

// Registry maps device ids to their current connection. Inserting a
// connection for a device id that's already registered closes and
// replaces the prior one (spec §4.2's "second auth for the same
// device id evicts the first").
type Registry struct {
	mu    sync.Mutex
	conns map[string]Conn
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Put registers conn for deviceID. If a connection was already
// registered for that device, it is closed and replaced. Returns true
// if an existing connection was evicted.
func (r *Registry) Put(deviceID string, conn Conn) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.conns[deviceID]; ok && prior != conn {
		_ = prior.Close()
		evicted = true
	}
	r.conns[deviceID] = conn
	return evicted
}

// Get returns the connection registered for deviceID, if any.
func (r *Registry) Get(deviceID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[deviceID]
	return c, ok
}

// Remove deletes deviceID's entry only if it still points at conn,
// so a stale readPump goroutine can't clobber a newer connection that
// already replaced it.
func (r *Registry) Remove(deviceID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[deviceID]; ok && cur == conn {
		delete(r.conns, deviceID)
	}
}

// Len reports the number of live connections, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Online reports whether deviceID currently has a live connection.
func (r *Registry) Online(deviceID string) bool {
	_, ok := r.Get(deviceID)
	return ok
}

// Snapshot returns every currently registered connection, for the
// reaper's heartbeat sweep. The slice is a point-in-time copy; it does
// not block concurrent Put/Remove calls.
func (r *Registry) Snapshot() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

var _ Conn = (*websocket.Conn)(nil)
