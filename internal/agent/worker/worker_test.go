package worker

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeCLI writes a shell script that mimics the `--output-format
// stream-json` contract this package parses: for every line it reads
// from stdin, it emits a system/init line, one assistant text line,
// and a result line. delay, if non-zero, is slept before responding,
// letting tests exercise the busy-lock window.
func writeFakeCLI(t *testing.T, delay time.Duration) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI script assumes a POSIX shell")
	}

	sleep := ""
	if delay > 0 {
		sleep = "sleep " + strconv.FormatFloat(delay.Seconds(), 'f', -1, 64) + "\n"
	}

	script := "#!/bin/sh\n" +
		"while IFS= read -r line; do\n" +
		sleep +
		"  echo '{\"type\":\"system\",\"subtype\":\"init\",\"session_id\":\"provider-1\",\"model\":\"test-model\"}'\n" +
		"  echo '{\"type\":\"assistant\",\"message\":{\"content\":[{\"type\":\"text\",\"text\":\"hello\"}]}}'\n" +
		"  echo '{\"type\":\"result\",\"total_cost_usd\":0.01,\"usage\":{\"input_tokens\":1,\"output_tokens\":2,\"cache_read_input_tokens\":0,\"cache_creation_input_tokens\":0}}'\n" +
		"done\n"

	dir := t.TempDir()
	path := filepath.Join(dir, "fake-cli.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func drainUntil(t *testing.T, w *Worker, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-w.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestWorker_SendReceivesMessageAndDone(t *testing.T) {
	bin := writeFakeCLI(t, 0)
	w := New("1", bin, t.TempDir(), time.Second)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)

	drainUntil(t, w, EventReady, 2*time.Second)
	require.NoError(t, w.Send("hi"))

	msg := drainUntil(t, w, EventMessage, 2*time.Second)
	assert.Equal(t, SubtypeSuccess, msg.Subtype)
	assert.Equal(t, "hello", msg.Text)

	drainUntil(t, w, EventDone, 2*time.Second)

	usage := w.Usage()
	assert.Equal(t, int64(1), usage.InputTokens)
	assert.Equal(t, int64(2), usage.OutputTokens)
	assert.InDelta(t, 0.01, usage.TotalCostUSD, 0.0001)
}

func TestWorker_SendWhileBusyFailsFast(t *testing.T) {
	bin := writeFakeCLI(t, 300*time.Millisecond)
	w := New("2", bin, t.TempDir(), time.Second)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)

	drainUntil(t, w, EventReady, 2*time.Second)
	require.NoError(t, w.Send("first"))

	err := w.Send("second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already processing")

	drainUntil(t, w, EventDone, 2*time.Second)
}

func TestWorker_RestartResetsUsage(t *testing.T) {
	bin := writeFakeCLI(t, 0)
	w := New("3", bin, t.TempDir(), time.Second)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)

	drainUntil(t, w, EventReady, 2*time.Second)
	require.NoError(t, w.Send("hi"))
	drainUntil(t, w, EventDone, 2*time.Second)
	assert.NotZero(t, w.Usage().TotalCostUSD)

	require.NoError(t, w.Restart())
	drainUntil(t, w, EventReady, 2*time.Second)
	assert.Zero(t, w.Usage().TotalCostUSD)
}
