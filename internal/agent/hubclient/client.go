// Package hubclient is the Agent's outbound WebSocket connection to
// the Hub. The teacher has no outbound-client code of
// its own — it only ever accepts connections — so this package is
// grounded on leapmux-leapmux's internal/worker/hub/client.go
// reconnect-with-backoff shape, adapted from its ConnectRPC bidi
// stream to a gorilla/websocket connection carrying the Hub's JSON
// frames (internal/wire).
package hubclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/agent/metrics"
	"github.com/cliremote/cliremote/internal/logging"
	"github.com/cliremote/cliremote/internal/wire"
)

// Role is the device role carried in the auth token (spec §6).
type Role string

const (
	RoleDesktop Role = "desktop"
	RolePhone   Role = "phone"
)

const writeWait = 10 * time.Second

// Client manages one outbound connection to the Hub.
type Client struct {
	hubURL     string
	deviceID   string
	deviceName string
	role       Role
	pingEvery  time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	roomID    string
	connected bool

	// incoming carries every relayable frame (message, session_*) the
	// hub forwards, for the caller to decode. Protocol-management
	// frames (auth_*, pong, paired, rejoin_*, peer_offline, unpaired,
	// error) are handled internally and surfaced via the typed
	// callbacks below instead.
	incoming chan []byte

	OnPaired      func(roomID string)
	OnPeerOffline func()
	OnUnpaired    func()
	OnAuthError   func(reason string)
}

// New builds a Client for deviceID/deviceName/role against hubURL
// (e.g. "wss://hub.example.com/ws"). A room id seeded with SetRoomID
// is attempted via `rejoin` immediately after auth succeeds.
func New(hubURL, deviceID, deviceName string, role Role, pingEvery time.Duration) *Client {
	return &Client{
		hubURL:     hubURL,
		deviceID:   deviceID,
		deviceName: deviceName,
		role:       role,
		pingEvery:  pingEvery,
		incoming:   make(chan []byte, 64),
	}
}

// Incoming returns the channel of relayable frames forwarded by the
// hub (message and session_* frames), raw and undecoded.
func (c *Client) Incoming() <-chan []byte {
	return c.incoming
}

// RoomID returns the last room id this client authenticated into,
// either via `paired` or a successful `rejoin`.
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// SetRoomID seeds a remembered room id to `rejoin` on next connect
// (e.g. restored from internal/agent/state at startup).
func (c *Client) SetRoomID(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// Send writes a pre-encoded frame to the hub. Safe for concurrent use.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("hubclient: not connected")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// authToken builds the "<deviceId>:<deviceName>:<role>" token (spec §6).
func (c *Client) authToken() string {
	return strings.Join([]string{c.deviceID, c.deviceName, string(c.role)}, ":")
}

// Connect dials the hub once, authenticates, optionally rejoins a
// remembered room, and runs the read loop until the connection drops
// or ctx is cancelled.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.hubURL)
	if err != nil {
		return fmt.Errorf("hubclient: invalid hub url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return fmt.Errorf("hubclient: dial: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		conn.Close()
	}()

	// Closing the socket is what unblocks ReadMessage once ctx ends.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := c.Send(wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: c.authToken()})); err != nil {
		return fmt.Errorf("hubclient: send auth: %w", err)
	}

	logging.Info(ctx, "connecting to hub", zap.String("hub_url", c.hubURL), zap.String("device_id", c.deviceID))

	go c.pingLoop(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("hubclient: read: %w", err)
		}
		c.handleFrame(ctx, data)
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte) {
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		logging.Warn(ctx, "hubclient: malformed frame from hub", zap.Error(err))
		return
	}

	switch env.Type {
	case wire.TypeAuthSuccess:
		logging.Info(ctx, "hub authenticated", zap.String("device_id", c.deviceID))
		if roomID := c.RoomID(); roomID != "" {
			_ = c.Send(wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: roomID}))
		}
	case wire.TypeAuthError:
		var f wire.AuthErrorFrame
		_ = wire.Unmarshal(env.Raw, &f)
		if c.OnAuthError != nil {
			c.OnAuthError(f.Error)
		}
	case wire.TypePaired:
		var f wire.PairedFrame
		_ = wire.Unmarshal(env.Raw, &f)
		c.mu.Lock()
		c.roomID = f.RoomID
		c.mu.Unlock()
		if c.OnPaired != nil {
			c.OnPaired(f.RoomID)
		}
	case wire.TypeRejoinSuccess:
		var f wire.RejoinSuccessFrame
		_ = wire.Unmarshal(env.Raw, &f)
		c.mu.Lock()
		c.roomID = f.RoomID
		c.mu.Unlock()
	case wire.TypeRejoinFailed:
		var f wire.RejoinFailedFrame
		_ = wire.Unmarshal(env.Raw, &f)
		logging.Warn(ctx, "rejoin failed, a new pair code is required", zap.String("reason", f.Reason))
		c.mu.Lock()
		c.roomID = ""
		c.mu.Unlock()
	case wire.TypePeerOffline:
		if c.OnPeerOffline != nil {
			c.OnPeerOffline()
		}
	case wire.TypeUnpaired:
		c.mu.Lock()
		c.roomID = ""
		c.mu.Unlock()
		if c.OnUnpaired != nil {
			c.OnUnpaired()
		}
	case wire.TypePong:
		// heartbeat acknowledged, nothing to do
	case wire.TypeError:
		var f wire.ErrorFrame
		_ = wire.Unmarshal(env.Raw, &f)
		logging.Warn(ctx, "hub reported an error", zap.String("error", f.Error))
	default:
		select {
		case c.incoming <- raw:
		default:
			logging.Warn(ctx, "hubclient: incoming buffer full, dropping frame", zap.String("type", env.Type))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			connected := c.connected
			c.mu.Unlock()
			if !connected {
				return
			}
			if err := c.Send(wire.Marshal(wire.PingFrame{Type: wire.TypePing})); err != nil {
				return
			}
		}
	}
}

// connectFn matches Connect's signature, for test injection.
type connectFn func(ctx context.Context) error

// ConnectWithReconnect wraps Connect with exponential backoff
// reconnection, the same pattern as leapmux-leapmux's
// ConnectWithReconnect: starts at 1s, doubles up to 60s, and resets
// once a connection has stayed up longer than resetThreshold.
func (c *Client) ConnectWithReconnect(ctx context.Context) {
	c.connectWithReconnect(ctx, c.Connect, newDefaultBackoff(), resetThreshold)
}

func (c *Client) connectWithReconnect(ctx context.Context, connect connectFn, bo *backoff.ExponentialBackOff, threshold time.Duration) {
	for {
		start := time.Now()
		err := connect(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(start) >= threshold {
			bo.Reset()
		}

		interval := bo.NextBackOff()
		logging.Warn(ctx, "disconnected from hub, reconnecting", zap.Error(err), zap.Duration("backoff", interval))
		metrics.HubReconnectsTotal.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
