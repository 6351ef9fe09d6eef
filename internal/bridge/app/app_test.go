package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliremote/cliremote/internal/agent/guard"
	"github.com/cliremote/cliremote/internal/agent/session"
	"github.com/cliremote/cliremote/internal/bridge/auth"
	"github.com/cliremote/cliremote/internal/bridge/queue"
)

type fakeTransport struct {
	mu  sync.Mutex
	out []string
}

func (f *fakeTransport) Send(identity, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, text)
	return nil
}

func (f *fakeTransport) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.out...)
}

func (f *fakeTransport) last() string {
	msgs := f.messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func fakeCLI(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI script assumes a POSIX shell")
	}
	script := "#!/bin/sh\n" +
		"while IFS= read -r line; do\n" +
		"  sleep 0.3\n" +
		"  echo '{\"type\":\"system\",\"subtype\":\"init\",\"session_id\":\"p1\",\"model\":\"test\"}'\n" +
		"  echo '{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"reply\"}]}}'\n" +
		"  echo '{\"type\":\"result\",\"total_cost_usd\":0,\"usage\":{\"input_tokens\":0,\"output_tokens\":0,\"cache_read_input_tokens\":0,\"cache_creation_input_tokens\":0}}'\n" +
		"done\n"
	path := filepath.Join(t.TempDir(), "fake-cli.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestApp(t *testing.T, password string) (*App, *fakeTransport, string) {
	t.Helper()
	dir := t.TempDir()
	g := guard.New([]string{dir})
	mux := session.New(4, fakeCLI(t), time.Second, g)
	gate := auth.New(password)
	q := queue.New()
	transport := &fakeTransport{}
	return New(mux, gate, q, transport, false), transport, dir
}

func TestHandle_UnauthenticatedFirstContactChallenges(t *testing.T) {
	a, transport, _ := newTestApp(t, "hunter2")
	a.handle("alice", "hello")
	assert.Contains(t, transport.last(), "please enter password")
}

func TestHandle_CorrectPasswordAuthenticates(t *testing.T) {
	a, transport, _ := newTestApp(t, "hunter2")
	a.handle("alice", "hello")
	a.handle("alice", "hunter2")
	assert.Equal(t, "authenticated", transport.last())
}

func TestHandle_WrongPasswordRePrompts(t *testing.T) {
	a, transport, _ := newTestApp(t, "hunter2")
	a.handle("alice", "hello")
	a.handle("alice", "wrong")
	assert.Contains(t, transport.last(), "please enter password")
}

func TestHandleCommand_NewCreatesSession(t *testing.T) {
	a, transport, dir := newTestApp(t, "hunter2")
	a.gate.Attempt("alice", "hunter2")

	a.handle("alice", "/new work "+dir)
	assert.Contains(t, transport.last(), "created session 1")
}

func TestHandleCommand_ListShowsSessions(t *testing.T) {
	a, transport, dir := newTestApp(t, "hunter2")
	a.gate.Attempt("alice", "hunter2")

	a.handle("alice", "/new work "+dir)
	a.handle("alice", "/list")
	assert.Contains(t, transport.last(), "work")
}

func TestSendToActive_QueuesWhenBusy(t *testing.T) {
	a, transport, dir := newTestApp(t, "hunter2")
	a.gate.Attempt("alice", "hunter2")

	a.handle("alice", "/new work "+dir)
	require.Eventually(t, func() bool {
		return strings.Contains(transport.last(), "created session")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.mux.Send("first turn"))
	a.handle("alice", "queued while busy")

	require.Eventually(t, func() bool {
		for _, m := range transport.messages() {
			if m == "queued" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
