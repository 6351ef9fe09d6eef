// Package worker owns one child assistant-CLI process per Session and
// exposes the asynchronous event contract from spec §4.7. This
// implementation is strategy (A): persistent child, structured
// streams — see DESIGN.md Open Question 1 for why. Restart attempts
// after a crash are wrapped in a sony/gobreaker.CircuitBreaker the
// same way internal/hub/bus wraps Redis publishes, so a CLI binary
// that crash-loops stops being respawned instantly.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/agent/metrics"
	"github.com/cliremote/cliremote/internal/logging"
)

// EventType enumerates the worker's outbound event kinds.
type EventType string

const (
	EventReady   EventType = "ready"
	EventMessage EventType = "message"
	EventDone    EventType = "done"
	EventError   EventType = "error"
	EventExit    EventType = "exit"
)

// Message subtypes for EventMessage, per spec §4.7.
const (
	SubtypeSuccess = "success"
	SubtypeError   = "error"
)

// Event is one item in the worker's event stream. Fields not relevant
// to Type are left zero.
type Event struct {
	Type     EventType
	Subtype  string
	Text     string
	Err      error
	ExitCode int
}

// Usage accumulates per-worker token and cost counters, reset only by
// Restart (spec §4.7).
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheReadInputTokens     int64
	CacheCreationInputTokens int64
	TotalCostUSD             float64
}

// Worker owns one child CLI process for a Session.
type Worker struct {
	sessionID    string
	binaryPath   string
	workingDir   string
	restartDelay time.Duration

	events chan Event

	mu                sync.Mutex
	cmd               *exec.Cmd
	stdin             io.WriteCloser
	busy              bool
	buffer            strings.Builder
	usage             Usage
	providerSessionID string
	model             string
	stopping          bool

	breaker *gobreaker.CircuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Worker for the given session. binaryPath is the
// assistant-CLI executable (spec §4.7's configurable "CLI binary
// path"); workingDir must already have passed the directory-scope
// guard.
func New(sessionID, binaryPath, workingDir string, restartDelay time.Duration) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		sessionID:    sessionID,
		binaryPath:   binaryPath,
		workingDir:   workingDir,
		restartDelay: restartDelay,
		events:       make(chan Event, 32),
		ctx:          ctx,
		cancel:       cancel,
	}
	w.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker_restart_" + sessionID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	return w
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Events returns the worker's event stream. Callers must keep reading
// it for the worker's lifetime or risk blocking internal emits.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Usage returns a snapshot of accumulated token/cost counters.
func (w *Worker) Usage() Usage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage
}

// Model returns the model name reported by the child CLI's init
// message, or "" before the worker has started.
func (w *Worker) Model() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// ProviderSessionID returns the provider-assigned session ID reported
// by the child CLI's init message, or "" before the worker has started.
func (w *Worker) ProviderSessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.providerSessionID
}

// Start spawns the child process and begins reading its stdout.
func (w *Worker) Start() error {
	cmd := exec.CommandContext(w.ctx, w.binaryPath,
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--print", "--verbose", "--dangerously-skip-permissions",
	)
	cmd.Dir = w.workingDir
	cmd.Env = append(os.Environ(), "FORCE_COLOR=0")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker: start %s: %w", w.binaryPath, err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.stopping = false
	w.mu.Unlock()

	go w.readLoop(stdout, cmd)
	w.emit(Event{Type: EventReady})
	return nil
}

// Send writes one user message line to the child's stdin. Fails fast
// if a prior send has not yet produced a `result` line (spec §4.7).
func (w *Worker) Send(text string) error {
	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return fmt.Errorf("already processing")
	}
	if w.stdin == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not running")
	}
	w.busy = true
	stdin := w.stdin
	w.mu.Unlock()

	line, err := json.Marshal(userLine{
		Type: "user",
		Message: userMessage{
			Role:    "user",
			Content: text,
		},
	})
	if err != nil {
		return fmt.Errorf("worker: encode user message: %w", err)
	}
	line = append(line, '\n')

	if _, err := stdin.Write(line); err != nil {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
		return fmt.Errorf("worker: write to child: %w", err)
	}
	return nil
}

type userLine struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stop gracefully closes stdin and signals the child to exit.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	stdin := w.stdin
	cmd := w.cmd
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Interrupt)
}

// ForceStop sends SIGKILL to the child immediately.
func (w *Worker) ForceStop() error {
	w.mu.Lock()
	w.stopping = true
	cmd := w.cmd
	w.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// Restart stops the current child (if any) and starts a fresh one,
// resetting usage counters — the only place they are reset (spec §4.7).
func (w *Worker) Restart() error {
	_ = w.ForceStop()
	w.mu.Lock()
	w.usage = Usage{}
	w.providerSessionID = ""
	w.model = ""
	w.buffer.Reset()
	w.busy = false
	w.mu.Unlock()
	return w.Start()
}

// Close stops the child and releases the worker's context, ensuring
// an early exit from the owning task terminates the child (spec §9
// "child-process ownership").
func (w *Worker) Close() {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	_ = w.ForceStop()
	w.cancel()
}

func (w *Worker) emit(e Event) {
	select {
	case w.events <- e:
	case <-w.ctx.Done():
	}
}

// streamLine is the subset of fields this parser recognizes across
// the `system`, `assistant`, and `result` message types (spec §4.7).
type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`

	SessionID string `json:"session_id"`
	Model     string `json:"model"`

	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	Usage        *struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	} `json:"usage"`
}

func (w *Worker) readLoop(stdout io.ReadCloser, cmd *exec.Cmd) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sl streamLine
		if err := json.Unmarshal(line, &sl); err != nil {
			logging.Warn(nil, "worker: malformed stream-json line", zap.String("session_id", w.sessionID), zap.Error(err))
			continue
		}
		w.handleLine(sl)
	}

	err := cmd.Wait()
	w.mu.Lock()
	stopping := w.stopping
	w.busy = false
	partial := w.buffer.String()
	w.buffer.Reset()
	w.stdin = nil
	w.mu.Unlock()

	if partial != "" {
		w.emit(Event{Type: EventMessage, Subtype: SubtypeError, Text: partial})
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	w.emit(Event{Type: EventExit, ExitCode: exitCode})

	if stopping {
		return
	}
	w.scheduleRestart(err)
}

func (w *Worker) handleLine(sl streamLine) {
	switch sl.Type {
	case "system":
		if sl.Subtype == "init" {
			w.mu.Lock()
			w.providerSessionID = sl.SessionID
			w.model = sl.Model
			w.mu.Unlock()
		}
	case "assistant":
		if sl.Message == nil {
			return
		}
		w.mu.Lock()
		for _, c := range sl.Message.Content {
			if c.Type == "text" {
				w.buffer.WriteString(c.Text)
			}
		}
		w.mu.Unlock()
	case "result":
		w.mu.Lock()
		text := w.buffer.String()
		w.buffer.Reset()
		w.busy = false
		w.usage.TotalCostUSD += sl.TotalCostUSD
		if sl.Usage != nil {
			w.usage.InputTokens += sl.Usage.InputTokens
			w.usage.OutputTokens += sl.Usage.OutputTokens
			w.usage.CacheReadInputTokens += sl.Usage.CacheReadInputTokens
			w.usage.CacheCreationInputTokens += sl.Usage.CacheCreationInputTokens
		}
		w.mu.Unlock()

		w.emit(Event{Type: EventMessage, Subtype: SubtypeSuccess, Text: text})
		w.emit(Event{Type: EventDone})
	}
}

func (w *Worker) scheduleRestart(causeErr error) {
	go func() {
		select {
		case <-time.After(w.restartDelay):
		case <-w.ctx.Done():
			return
		}

		_, err := w.breaker.Execute(func() (any, error) {
			return nil, w.Start()
		})
		if err == gobreaker.ErrOpenState {
			logging.Warn(nil, "worker restart circuit open, not respawning", zap.String("session_id", w.sessionID))
			w.emit(Event{Type: EventError, Err: fmt.Errorf("worker crash-looping, restarts paused: %w", causeErr)})
			return
		}
		if err != nil {
			logging.Error(nil, "worker restart failed", zap.String("session_id", w.sessionID), zap.Error(err))
			w.emit(Event{Type: EventError, Err: err})
			return
		}
		metrics.WorkerRestartsTotal.WithLabelValues(w.sessionID).Inc()
	}()
}
