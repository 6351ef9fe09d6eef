// Package dispatcher implements the Hub's per-connection message loop
// (spec §4.3): authentication, ping/pong, relay, and rejoin. It is
// grounded on the teacher's internal/v1/session.Client readPump/
// writePump pair, adapted from binary protobuf frames broadcast
// within an N-party room to JSON frames relayed between exactly two
// paired devices.
package dispatcher

import (
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/hub/pairing"
	"github.com/cliremote/cliremote/internal/logging"
)

// wsConn is the subset of *websocket.Conn the Client needs, mirroring
// the teacher's wsConnection test seam.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Client is one authenticated-or-authenticating socket.
type Client struct {
	conn wsConn
	send chan []byte
	hub  *Hub

	mu         sync.RWMutex
	deviceID   string
	deviceName string
	role       pairing.Role
	roomID     string
	lastPingAt time.Time
	authed     bool
}

func newClient(conn wsConn, hub *Hub) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		hub:        hub,
		lastPingAt: time.Now(),
	}
}

func (c *Client) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) setRoomID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = id
}

func (c *Client) isAuthed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

func (c *Client) touchPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPingAt = time.Now()
}

// StaleSince reports whether this connection hasn't pinged within
// threshold, for the reaper's heartbeat sweep (spec §4.5).
func (c *Client) StaleSince(threshold time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastPingAt) > threshold
}

// Close implements registry.Conn.
func (c *Client) Close() error {
	return c.conn.Close()
}

// enqueue best-effort delivers a frame; a full send buffer indicates a
// wedged client and is dropped rather than blocking the dispatcher.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		logging.Warn(nil, "client send buffer full, dropping frame", zap.String("device_id", c.DeviceID()))
	}
}

// readPump decodes inbound JSON frames and routes them until the
// socket closes, then runs the Hub's disconnect notification path.
func (c *Client) readPump() {
	defer func() {
		c.hub.handleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Time{})
	c.conn.SetPongHandler(func(string) error {
		c.touchPing()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.route(c, data)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// parseAuthToken splits the spec §4.3 "deviceId:deviceName:role" token.
func parseAuthToken(token string) (deviceID, deviceName string, role pairing.Role, ok bool) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	deviceID, deviceName, r := parts[0], parts[1], parts[2]
	if deviceID == "" || (r != string(pairing.RoleDesktop) && r != string(pairing.RolePhone)) {
		return "", "", "", false
	}
	return deviceID, deviceName, pairing.Role(r), true
}
