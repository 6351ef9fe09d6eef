// Package room implements the Hub's room table (spec §3, §4.3): each
// room pairs exactly one desktop device id with one phone device id
// and survives either single peer disconnecting, so a reconnect can
// rejoin the same room. It is grounded on the teacher's
// internal/v1/room.Room and the Hub's grace-period cleanup timer in
// internal/v1/transport/hub.go, narrowed from an N-participant
// conference room to a fixed two-peer pairing.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of a room a device occupies.
type Role string

const (
	RoleDesktop Role = "desktop"
	RolePhone   Role = "phone"
)

// Room is a single desktop/phone pairing.
type Room struct {
	ID              string
	DesktopDeviceID string
	PhoneDeviceID   string
	CreatedAt       time.Time
	LastActivityAt  time.Time
}

// HasPeer reports whether role's slot is occupied.
func (r *Room) HasPeer(role Role) bool {
	switch role {
	case RoleDesktop:
		return r.DesktopDeviceID != ""
	case RolePhone:
		return r.PhoneDeviceID != ""
	default:
		return false
	}
}

// PeerDeviceID returns the device id on the opposite side of
// deviceID within the room, or "" if deviceID isn't a member or the
// other side is empty.
func (r *Room) PeerDeviceID(deviceID string) string {
	switch deviceID {
	case r.DesktopDeviceID:
		return r.PhoneDeviceID
	case r.PhoneDeviceID:
		return r.DesktopDeviceID
	default:
		return ""
	}
}

// Table is the Hub's mutex-guarded set of rooms, keyed by room id and
// indexed by device id for O(1) "which room is this device in" lookups.
type Table struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	byDevice  map[string]string // deviceId -> roomId
	newID     func() string
	now       func() time.Time
	idleAfter time.Duration
}

// New builds an empty Table. idleAfter is the duration of inactivity
// (no relayed frames, no reconnect) after which Reap evicts a room
// (spec §4.5's idle-room eviction).
func New(idleAfter time.Duration) *Table {
	return &Table{
		rooms:     make(map[string]*Room),
		byDevice:  make(map[string]string),
		newID:     func() string { return uuid.NewString() },
		now:       time.Now,
		idleAfter: idleAfter,
	}
}

// Create allocates a new room for a confirmed pair.
func (t *Table) Create(desktopDeviceID, phoneDeviceID string) *Room {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r := &Room{
		ID:              t.newID(),
		DesktopDeviceID: desktopDeviceID,
		PhoneDeviceID:   phoneDeviceID,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	t.rooms[r.ID] = r
	t.byDevice[desktopDeviceID] = r.ID
	t.byDevice[phoneDeviceID] = r.ID
	return r
}

// Get returns the room with the given id.
func (t *Table) Get(roomID string) (*Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[roomID]
	return r, ok
}

// ByDevice returns the room deviceID currently belongs to, if any.
func (t *Table) ByDevice(deviceID string) (*Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	roomID, ok := t.byDevice[deviceID]
	if !ok {
		return nil, false
	}
	return t.rooms[roomID], true
}

// Touch bumps a room's last-activity timestamp, keeping it alive
// against idle eviction. Safe to call on every relayed frame.
func (t *Table) Touch(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.rooms[roomID]; ok {
		r.LastActivityAt = t.now()
	}
}

// LeaveDevice detaches deviceID from its room's device index without
// deleting the room itself — a room survives a single peer
// disconnecting (spec §3) so the remaining peer, or a later
// reconnect, can still find it via Rejoin.
func (t *Table) LeaveDevice(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byDevice, deviceID)
}

// Rejoin re-attaches deviceID to roomID on the given role, restoring
// the device index entry after a reconnect (spec §4.3 rejoin frame).
// Fails if the room doesn't exist or the role slot is already held by
// a different device id.
func (t *Table) Rejoin(roomID, deviceID string, role Role) (*Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.rooms[roomID]
	if !ok {
		return nil, false
	}

	switch role {
	case RoleDesktop:
		if r.DesktopDeviceID != "" && r.DesktopDeviceID != deviceID {
			return nil, false
		}
		r.DesktopDeviceID = deviceID
	case RolePhone:
		if r.PhoneDeviceID != "" && r.PhoneDeviceID != deviceID {
			return nil, false
		}
		r.PhoneDeviceID = deviceID
	default:
		return nil, false
	}

	r.LastActivityAt = t.now()
	t.byDevice[deviceID] = roomID
	return r, true
}

// Delete removes a room entirely (explicit unpair, not disconnect).
func (t *Table) Delete(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(t.byDevice, r.DesktopDeviceID)
	delete(t.byDevice, r.PhoneDeviceID)
	delete(t.rooms, roomID)
}

// Reap evicts rooms that have had no activity for longer than
// idleAfter, unless idleAfter is zero (idle eviction disabled).
// Returns the ids of evicted rooms.
func (t *Table) Reap() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.idleAfter <= 0 {
		return nil
	}

	now := t.now()
	var evicted []string
	for id, r := range t.rooms {
		if now.Sub(r.LastActivityAt) > t.idleAfter {
			delete(t.byDevice, r.DesktopDeviceID)
			delete(t.byDevice, r.PhoneDeviceID)
			delete(t.rooms, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len reports the number of live rooms, for metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}
