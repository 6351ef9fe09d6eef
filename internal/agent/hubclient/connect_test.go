package hubclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/cliremote/cliremote/internal/wire"
)

// newFakeHub spins up a minimal WebSocket server that accepts one
// connection, expects an auth frame, and then replays the server
// frames passed in through serverFrames before closing.
func newFakeHub(t *testing.T, serverFrames ...[]byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, _, err = conn.ReadMessage() // the auth frame
		if err != nil {
			return
		}
		for _, f := range serverFrames {
			if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		// keep reading until the client disconnects
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnect_PairedFrameSetsRoomIDAndFiresCallback(t *testing.T) {
	paired := wire.Marshal(wire.PairedFrame{Type: wire.TypePaired, RoomID: "room-42"})
	srv := newFakeHub(t, paired)
	defer srv.Close()

	c := New(wsURL(srv.URL), "device-1", "desktop", RoleDesktop, time.Hour)

	var gotRoomID string
	done := make(chan struct{})
	c.OnPaired = func(roomID string) {
		gotRoomID = roomID
		close(done)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Connect(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("OnPaired was never called")
	}

	require.Equal(t, "room-42", gotRoomID)
	require.Equal(t, "room-42", c.RoomID())
}

func TestConnect_UnpairedClearsRoomID(t *testing.T) {
	paired := wire.Marshal(wire.PairedFrame{Type: wire.TypePaired, RoomID: "room-1"})
	unpaired := wire.Marshal(wire.UnpairedFrame{Type: wire.TypeUnpaired})
	srv := newFakeHub(t, paired, unpaired)
	defer srv.Close()

	c := New(wsURL(srv.URL), "device-1", "desktop", RoleDesktop, time.Hour)

	done := make(chan struct{})
	c.OnUnpaired = func() { close(done) }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Connect(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("OnUnpaired was never called")
	}

	require.Equal(t, "", c.RoomID())
}

func TestConnect_RelayableFrameReachesIncoming(t *testing.T) {
	msg := wire.Marshal(wire.MessageFrame{Type: wire.TypeMessage, Payload: wire.MessageEnvelope{Content: "hi"}})
	srv := newFakeHub(t, msg)
	defer srv.Close()

	c := New(wsURL(srv.URL), "device-1", "desktop", RoleDesktop, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go c.Connect(ctx)

	select {
	case raw := <-c.Incoming():
		env, err := wire.DecodeEnvelope(raw)
		require.NoError(t, err)
		require.Equal(t, wire.TypeMessage, env.Type)
	case <-ctx.Done():
		t.Fatal("relayable frame never reached Incoming()")
	}
}
