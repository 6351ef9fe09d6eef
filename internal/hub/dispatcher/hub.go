package dispatcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/hub/bus"
	"github.com/cliremote/cliremote/internal/hub/metrics"
	"github.com/cliremote/cliremote/internal/hub/pairing"
	"github.com/cliremote/cliremote/internal/hub/registry"
	"github.com/cliremote/cliremote/internal/hub/room"
	"github.com/cliremote/cliremote/internal/logging"
	"github.com/cliremote/cliremote/internal/wire"
)

// Hub owns the registry and room table and routes every inbound
// frame across them, following the single-owner-per-structure
// discipline spec §9 calls for: registry, rooms, and pending pairs
// are each guarded by their own mutex, acquired in the documented
// order registry -> rooms -> pending, and none is ever held across a
// socket write.
type Hub struct {
	Registry *registry.Registry
	Rooms    *room.Table
	Pending  *pairing.Store
	Bus      *bus.Service

	heartbeatInterval time.Duration
	allowedOrigins    []string
	wsLimiter         WSRateLimiter
}

// WSRateLimiter is the subset of ratelimit.Limiter the dispatcher
// needs, kept as an interface so it stays optional (nil-safe) and
// doesn't force an import-cycle-prone dependency into this package.
type WSRateLimiter interface {
	AllowWebSocket(ctx context.Context, ip string) bool
}

// New builds a Hub. heartbeatInterval is stored on the Hub but not
// read by this package; the reaper receives the interval separately
// through reaper.Run. busService
// may be nil, in which case relay falls back to dropping frames for
// peers not held by this instance's registry, matching single-instance
// deployments.
func New(registryT *registry.Registry, rooms *room.Table, pending *pairing.Store, busService *bus.Service, heartbeatInterval time.Duration, allowedOrigins []string) *Hub {
	return &Hub{
		Registry:          registryT,
		Rooms:             rooms,
		Pending:           pending,
		Bus:               busService,
		heartbeatInterval: heartbeatInterval,
		allowedOrigins:    allowedOrigins,
	}
}

// SetWSRateLimiter attaches an optional per-IP limiter for WebSocket
// upgrades. Left unset, every upgrade is allowed.
func (h *Hub) SetWSRateLimiter(l WSRateLimiter) {
	h.wsLimiter = l
}

var tracer = otel.Tracer("github.com/cliremote/cliremote/internal/hub/dispatcher")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ServeWS upgrades an HTTP request to a WebSocket connection and
// starts its read/write pumps. Auth happens inline via the first
// `auth` frame (spec §4.3), not at upgrade time, since the hub does
// not gate connections on tenancy.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if h.wsLimiter != nil && !h.wsLimiter.AllowWebSocket(r.Context(), clientIP(r)) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn(r.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, h)
	metrics.IncConnection()
	go client.writePump()
	client.readPump()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}

func (h *Hub) originAllowed(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// route dispatches one inbound frame per spec §4.3. Each call is
// wrapped in its own span so a collector can see per-frame dispatch
// latency alongside the Gin-level spans from otelgin (off by default,
// same as tracing.Init).
func (h *Hub) route(c *Client, raw []byte) {
	_, span := tracer.Start(context.Background(), "dispatcher.route")
	defer span.End()

	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		span.SetAttributes(attribute.String("frame.type", "malformed"))
		c.enqueue(wire.Marshal(wire.ErrorFrame{Type: wire.TypeError, Error: "malformed frame"}))
		return
	}
	span.SetAttributes(attribute.String("frame.type", env.Type))

	switch env.Type {
	case wire.TypeAuth:
		h.handleAuth(c, env.Raw)
	case wire.TypePing:
		h.handlePing(c)
	case wire.TypeRejoin:
		h.handleRejoin(c, env.Raw)
	default:
		if wire.IsRelayable(env.Type) {
			h.relay(c, env.Type, raw)
			return
		}
		c.enqueue(wire.Marshal(wire.ErrorFrame{Type: wire.TypeError, Error: "unknown frame type: " + env.Type}))
	}
}

func (h *Hub) handleAuth(c *Client, raw []byte) {
	var frame wire.AuthFrame
	if err := wire.Unmarshal(raw, &frame); err != nil {
		c.enqueue(wire.Marshal(wire.AuthErrorFrame{Type: wire.TypeAuthError, Error: "malformed auth frame"}))
		return
	}

	deviceID, deviceName, role, ok := parseAuthToken(frame.Token)
	if !ok {
		c.enqueue(wire.Marshal(wire.AuthErrorFrame{Type: wire.TypeAuthError, Error: "malformed auth token"}))
		return
	}

	c.mu.Lock()
	c.deviceID = deviceID
	c.deviceName = deviceName
	c.role = role
	c.authed = true
	c.mu.Unlock()

	evicted := h.Registry.Put(deviceID, c)
	logging.Info(nil, "device authenticated",
		zap.String("device_id", deviceID),
		zap.String("role", string(role)),
		zap.Bool("evicted_prior", evicted),
	)

	c.enqueue(wire.Marshal(wire.AuthSuccessFrame{Type: wire.TypeAuthSuccess, DeviceID: deviceID}))
}

func (h *Hub) handlePing(c *Client) {
	c.touchPing()
	c.enqueue(wire.Marshal(wire.PongFrame{Type: wire.TypePong}))
}

func (h *Hub) handleRejoin(c *Client, raw []byte) {
	if !c.isAuthed() {
		c.enqueue(wire.Marshal(wire.RejoinFailedFrame{Type: wire.TypeRejoinFailed, Reason: "not authenticated"}))
		return
	}

	var frame wire.RejoinFrame
	if err := wire.Unmarshal(raw, &frame); err != nil {
		c.enqueue(wire.Marshal(wire.RejoinFailedFrame{Type: wire.TypeRejoinFailed, Reason: "malformed rejoin frame"}))
		return
	}

	r, ok := h.Rooms.Get(frame.RoomID)
	if !ok {
		c.enqueue(wire.Marshal(wire.RejoinFailedFrame{Type: wire.TypeRejoinFailed, Reason: "room not found"}))
		return
	}

	deviceID := c.DeviceID()
	var role room.Role
	switch deviceID {
	case r.DesktopDeviceID:
		role = room.RoleDesktop
	case r.PhoneDeviceID:
		role = room.RolePhone
	default:
		c.enqueue(wire.Marshal(wire.RejoinFailedFrame{Type: wire.TypeRejoinFailed, Reason: "device not in room"}))
		return
	}

	if _, ok := h.Rooms.Rejoin(frame.RoomID, deviceID, role); !ok {
		c.enqueue(wire.Marshal(wire.RejoinFailedFrame{Type: wire.TypeRejoinFailed, Reason: "device not in room"}))
		return
	}
	c.setRoomID(frame.RoomID)

	peerID := r.PeerDeviceID(deviceID)
	peerConn, online := h.Registry.Get(peerID)
	if online {
		if peerClient, ok := peerConn.(*Client); ok && peerClient.RoomID() == frame.RoomID {
			paired := wire.Marshal(wire.PairedFrame{Type: wire.TypePaired, RoomID: frame.RoomID})
			c.enqueue(paired)
			peerClient.enqueue(paired)
			return
		}
		online = false
	}

	c.enqueue(wire.Marshal(wire.RejoinSuccessFrame{Type: wire.TypeRejoinSuccess, RoomID: frame.RoomID, PeerOnline: online}))
}

// relay forwards a message/session_* frame to the peer in the
// sender's room, byte-for-byte, per spec §8's relay-transparency law.
// A sender with no room is dropped silently (spec §4.3, §7). A peer not
// held by this instance's registry is handed to the optional Redis bus
// so a peer connected to a different hub instance still receives it;
// only when the bus is unset or the publish fails does the frame get
// dropped as peer_offline.
func (h *Hub) relay(c *Client, frameType string, raw []byte) {
	if !c.isAuthed() {
		metrics.RelayFramesTotal.WithLabelValues(frameType, "unauthenticated").Inc()
		return
	}
	roomID := c.RoomID()
	if roomID == "" {
		metrics.RelayFramesTotal.WithLabelValues(frameType, "no_room").Inc()
		return
	}
	r, ok := h.Rooms.Get(roomID)
	if !ok {
		metrics.RelayFramesTotal.WithLabelValues(frameType, "room_gone").Inc()
		return
	}

	peerID := r.PeerDeviceID(c.DeviceID())
	peerConn, online := h.Registry.Get(peerID)
	if !online {
		if h.Bus != nil {
			if err := h.Bus.PublishDirect(context.Background(), peerID, raw); err != nil {
				logging.Warn(nil, "hub bus publish failed", zap.String("peer_device_id", peerID), zap.Error(err))
			} else {
				h.Rooms.Touch(roomID)
				metrics.RelayFramesTotal.WithLabelValues(frameType, "bus_relayed").Inc()
				return
			}
		}
		metrics.RelayFramesTotal.WithLabelValues(frameType, "peer_offline").Inc()
		return
	}

	h.Rooms.Touch(roomID)
	peerConn.(*Client).enqueue(raw)
	metrics.RelayFramesTotal.WithLabelValues(frameType, "delivered").Inc()
}

// NotifyPaired sends a `paired` frame to both devices' live connections,
// if present, after a successful HTTP pair-confirm (spec §4.4). It also
// binds each live connection's roomID so immediate relay works without
// requiring an explicit rejoin.
func (h *Hub) NotifyPaired(roomID, desktopDeviceID, phoneDeviceID string) {
	frame := wire.Marshal(wire.PairedFrame{Type: wire.TypePaired, RoomID: roomID})
	for _, deviceID := range []string{desktopDeviceID, phoneDeviceID} {
		if conn, online := h.Registry.Get(deviceID); online {
			if client, ok := conn.(*Client); ok {
				client.setRoomID(roomID)
				client.enqueue(frame)
			}
		}
	}
}

// handleDisconnect runs the socket-close path from spec §4.3: notify
// the peer if present, remove the Connection, and leave the Room
// intact so a later rejoin can recover it.
func (h *Hub) handleDisconnect(c *Client) {
	metrics.DecConnection()
	deviceID := c.DeviceID()
	if deviceID == "" {
		return
	}
	h.Registry.Remove(deviceID, c)

	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	h.Rooms.LeaveDevice(deviceID)

	r, ok := h.Rooms.Get(roomID)
	if !ok {
		return
	}
	peerID := r.PeerDeviceID(deviceID)
	if peerConn, online := h.Registry.Get(peerID); online {
		peerConn.(*Client).enqueue(wire.Marshal(wire.PeerOfflineFrame{Type: wire.TypePeerOffline}))
	}
}
