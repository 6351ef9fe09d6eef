package relay

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliremote/cliremote/internal/agent/guard"
	"github.com/cliremote/cliremote/internal/agent/session"
	"github.com/cliremote/cliremote/internal/wire"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  [][]byte
	fails bool
}

func (f *fakeSender) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeSender) last(t *testing.T) []byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func fakeCLI(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI script assumes a POSIX shell")
	}
	script := "#!/bin/sh\n" +
		"while IFS= read -r line; do\n" +
		"  echo '{\"type\":\"system\",\"subtype\":\"init\",\"session_id\":\"p1\",\"model\":\"test\"}'\n" +
		"  echo '{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"ok\"}]}}'\n" +
		"  echo '{\"type\":\"result\",\"total_cost_usd\":0,\"usage\":{\"input_tokens\":0,\"output_tokens\":0,\"cache_read_input_tokens\":0,\"cache_creation_input_tokens\":0}}'\n" +
		"done\n"
	path := filepath.Join(t.TempDir(), "fake-cli.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newRouter(t *testing.T) (*Router, *session.Multiplexer, *fakeSender, string) {
	t.Helper()
	dir := t.TempDir()
	g := guard.New([]string{dir})
	mux := session.New(4, fakeCLI(t), time.Second, g)
	sender := &fakeSender{}
	return New(mux, sender), mux, sender, dir
}

func TestHandleSessionCreate_RepliesSessionCreated(t *testing.T) {
	r, _, sender, dir := newRouter(t)
	go r.pumpSessionEvents()

	raw := wire.Marshal(wire.SessionCreateFrame{Type: wire.TypeSessionCreate, Name: "work", WorkingDirectory: dir})
	r.handleFrame(raw)

	var reply wire.SessionCreatedFrame
	require.Eventually(t, func() bool {
		env, err := wire.DecodeEnvelope(sender.last(t))
		return err == nil && env.Type == wire.TypeSessionCreated
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, wire.Unmarshal(sender.last(t), &reply))
	assert.Equal(t, "work", reply.Session.Name)
}

func TestHandleMessage_ExplicitSessionIDRoutesDirectly(t *testing.T) {
	r, mux, sender, dir := newRouter(t)
	go r.pumpSessionEvents()

	first, err := mux.Create("first", dir)
	require.NoError(t, err)
	second, err := mux.Create("second", dir)
	require.NoError(t, err)
	_ = first

	msg := wire.MessageFrame{
		Type: wire.TypeMessage,
		Payload: wire.MessageEnvelope{
			Content:   "direct",
			SessionID: strconv.Itoa(second.ID),
		},
	}
	r.handleFrame(wire.Marshal(msg))

	require.Eventually(t, func() bool {
		env, err := wire.DecodeEnvelope(sender.last(t))
		if err != nil || env.Type != wire.TypeMessage {
			return false
		}
		var f wire.MessageFrame
		_ = wire.Unmarshal(sender.last(t), &f)
		return f.Payload.SessionID == strconv.Itoa(second.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleSessionDelete_DefaultsToActive(t *testing.T) {
	r, mux, sender, dir := newRouter(t)
	go r.pumpSessionEvents()

	s, err := mux.Create("only", dir)
	require.NoError(t, err)

	r.handleFrame(wire.Marshal(wire.SessionDeleteFrame{Type: wire.TypeSessionDelete}))

	require.Eventually(t, func() bool {
		env, err := wire.DecodeEnvelope(sender.last(t))
		if err != nil || env.Type != wire.TypeSessionDeleted {
			return false
		}
		var f wire.SessionDeletedFrame
		_ = wire.Unmarshal(sender.last(t), &f)
		return f.ID == s.ID
	}, 2*time.Second, 10*time.Millisecond)
}
