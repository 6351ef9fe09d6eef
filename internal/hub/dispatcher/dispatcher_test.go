package dispatcher

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliremote/cliremote/internal/hub/pairing"
	"github.com/cliremote/cliremote/internal/hub/registry"
	"github.com/cliremote/cliremote/internal/hub/room"
	"github.com/cliremote/cliremote/internal/wire"
)

type fakeWSConn struct{}

func (fakeWSConn) ReadMessage() (int, []byte, error)  { return 0, nil, nil }
func (fakeWSConn) WriteMessage(int, []byte) error     { return nil }
func (fakeWSConn) Close() error                       { return nil }
func (fakeWSConn) SetReadDeadline(time.Time) error    { return nil }
func (fakeWSConn) SetWriteDeadline(time.Time) error   { return nil }
func (fakeWSConn) SetPongHandler(func(string) error)  {}

func newTestHub() *Hub {
	return New(registry.New(), room.New(0), pairing.NewStore(), nil, time.Minute, nil)
}

func newTestClient(h *Hub) *Client {
	return newClient(fakeWSConn{}, h)
}

func drain(t *testing.T, c *Client) map[string]bool {
	t.Helper()
	types := map[string]bool{}
	for {
		select {
		case frame := <-c.send:
			env, err := wire.DecodeEnvelope(frame)
			require.NoError(t, err)
			types[env.Type] = true
		default:
			return types
		}
	}
}

func authToken(deviceID, name string, role pairing.Role) string {
	return deviceID + ":" + name + ":" + string(role)
}

func TestRoute_AuthSucceedsAndRegistersDevice(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	frame := wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("desktop-1", "my-laptop", pairing.RoleDesktop)})
	h.route(c, frame)

	assert.True(t, c.isAuthed())
	assert.Equal(t, "desktop-1", c.DeviceID())
	assert.True(t, h.Registry.Online("desktop-1"))
	got := drain(t, c)
	assert.True(t, got[wire.TypeAuthSuccess])
}

func TestRoute_AuthMalformedTokenReturnsAuthError(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	frame := wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: "garbage"})
	h.route(c, frame)

	got := drain(t, c)
	assert.True(t, got[wire.TypeAuthError])
	assert.False(t, c.isAuthed())
}

func TestRoute_PingRepliesPongAndTouches(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)
	c.lastPingAt = time.Now().Add(-time.Hour)

	h.route(c, wire.Marshal(wire.PingFrame{Type: wire.TypePing}))

	got := drain(t, c)
	assert.True(t, got[wire.TypePong])
	assert.False(t, c.StaleSince(time.Minute))
}

func TestRoute_MalformedEnvelopeReturnsError(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	h.route(c, []byte("not json"))

	got := drain(t, c)
	assert.True(t, got[wire.TypeError])
}

func TestHandleRejoin_RequiresAuth(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)

	h.route(c, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: "room-1"}))

	got := drain(t, c)
	assert.True(t, got[wire.TypeRejoinFailed])
}

func TestHandleRejoin_SucceedsAndNotifiesOnlinePeer(t *testing.T) {
	h := newTestHub()
	r := h.Rooms.Create("desktop-1", "phone-1")

	desktop := newTestClient(h)
	h.route(desktop, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("desktop-1", "laptop", pairing.RoleDesktop)}))
	drain(t, desktop)

	phone := newTestClient(h)
	h.route(phone, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("phone-1", "iphone", pairing.RolePhone)}))
	drain(t, phone)

	h.route(desktop, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: r.ID}))
	got := drain(t, desktop)
	assert.True(t, got[wire.TypeRejoinSuccess])
	assert.Equal(t, r.ID, desktop.RoomID())

	h.route(phone, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: r.ID}))
	gotPhone := drain(t, phone)
	assert.True(t, gotPhone[wire.TypePaired])
	gotDesktop := drain(t, desktop)
	assert.True(t, gotDesktop[wire.TypePaired])
}

func TestRelay_ForwardsRawFrameToPeer(t *testing.T) {
	h := newTestHub()
	r := h.Rooms.Create("desktop-1", "phone-1")

	desktop := newTestClient(h)
	h.route(desktop, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("desktop-1", "laptop", pairing.RoleDesktop)}))
	drain(t, desktop)
	phone := newTestClient(h)
	h.route(phone, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("phone-1", "iphone", pairing.RolePhone)}))
	drain(t, phone)

	h.route(desktop, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: r.ID}))
	drain(t, desktop)
	h.route(phone, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: r.ID}))
	drain(t, phone)
	drain(t, desktop)

	msg := wire.Marshal(wire.MessageFrame{Type: wire.TypeMessage, Payload: wire.MessageEnvelope{Content: "hello"}})
	h.route(desktop, msg)

	select {
	case got := <-phone.send:
		assert.Equal(t, msg, got)
	default:
		t.Fatal("expected relayed frame on peer's send channel")
	}
}

func TestRelay_DroppedWhenSenderHasNoRoom(t *testing.T) {
	h := newTestHub()
	c := newTestClient(h)
	h.route(c, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("desktop-1", "laptop", pairing.RoleDesktop)}))
	drain(t, c)

	h.route(c, wire.Marshal(wire.MessageFrame{Type: wire.TypeMessage, Payload: wire.MessageEnvelope{Content: "hello"}}))
	assert.Empty(t, drain(t, c))
}

func TestHandleDisconnect_NotifiesPeerAndLeavesRoomIntact(t *testing.T) {
	h := newTestHub()
	r := h.Rooms.Create("desktop-1", "phone-1")

	desktop := newTestClient(h)
	h.route(desktop, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("desktop-1", "laptop", pairing.RoleDesktop)}))
	drain(t, desktop)
	phone := newTestClient(h)
	h.route(phone, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("phone-1", "iphone", pairing.RolePhone)}))
	drain(t, phone)

	h.route(desktop, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: r.ID}))
	drain(t, desktop)
	h.route(phone, wire.Marshal(wire.RejoinFrame{Type: wire.TypeRejoin, RoomID: r.ID}))
	drain(t, phone)
	drain(t, desktop)

	h.handleDisconnect(desktop)

	got := drain(t, phone)
	assert.True(t, got[wire.TypePeerOffline])
	assert.False(t, h.Registry.Online("desktop-1"))

	_, ok := h.Rooms.Get(r.ID)
	assert.True(t, ok, "room should survive a single peer disconnecting")
}

func TestNotifyPaired_SetsRoomIDAndEnqueuesOnBothLiveConns(t *testing.T) {
	h := newTestHub()
	r := h.Rooms.Create("desktop-1", "phone-1")

	desktop := newTestClient(h)
	h.route(desktop, wire.Marshal(wire.AuthFrame{Type: wire.TypeAuth, Token: authToken("desktop-1", "laptop", pairing.RoleDesktop)}))
	drain(t, desktop)

	h.NotifyPaired(r.ID, "desktop-1", "phone-1")

	assert.Equal(t, r.ID, desktop.RoomID())
	got := drain(t, desktop)
	assert.True(t, got[wire.TypePaired])
}

func TestOriginAllowed_NoAllowListAllowsEverything(t *testing.T) {
	h := New(registry.New(), room.New(0), pairing.NewStore(), nil, time.Minute, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.True(t, h.originAllowed(req))
}

func TestOriginAllowed_RejectsUnlistedOrigin(t *testing.T) {
	h := New(registry.New(), room.New(0), pairing.NewStore(), nil, time.Minute, []string{"https://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.originAllowed(req))
}

func TestClientIP_PrefersForwardedForOverRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestClientIP_FallsBackToRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))
}

func TestParseAuthToken(t *testing.T) {
	deviceID, name, role, ok := parseAuthToken("dev-1:My Laptop:desktop")
	assert.True(t, ok)
	assert.Equal(t, "dev-1", deviceID)
	assert.Equal(t, "My Laptop", name)
	assert.Equal(t, pairing.RoleDesktop, role)

	_, _, _, ok = parseAuthToken("missing-parts")
	assert.False(t, ok)

	_, _, _, ok = parseAuthToken("dev-1:name:not-a-role")
	assert.False(t, ok)
}
