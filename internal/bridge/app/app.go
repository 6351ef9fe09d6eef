// Package app implements the Bridge's chat-command adapter: the
// desktop-side chat-front-end CLI surface from spec §6 (`/start`,
// `/new`, `/switch`, `/list`, `/close`, `/rename`, `/session`,
// `/status`, `/stop`, `/restart`), wired against the same
// internal/agent/session.Multiplexer the phone-facing Agent uses, the
// password gate (internal/bridge/auth), and the FIFO queue
// (internal/bridge/queue). The example pack has no chat-platform SDK
// to ground a Slack/Telegram-style transport on, so the Transport
// interface here is deliberately small and platform-agnostic; the
// reference implementation wired in cmd/bridge is a terminal
// stdin/stdout transport with a single fixed operator identity.
package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/agent/session"
	"github.com/cliremote/cliremote/internal/bridge/auth"
	"github.com/cliremote/cliremote/internal/bridge/queue"
	"github.com/cliremote/cliremote/internal/logging"
	"github.com/cliremote/cliremote/internal/wire/framing"
)

// Transport is the operator-facing side of the Bridge: inbound chat
// messages in, outbound replies out. identity distinguishes operators
// on platforms that have more than one (unused by the single-operator
// terminal transport, which always passes a fixed identity).
type Transport interface {
	Send(identity, text string) error
}

// Inbound is one message received from a Transport.
type Inbound struct {
	Identity string
	Text     string
}

// App wires the chat-command surface to a session multiplexer.
type App struct {
	mux       *session.Multiplexer
	gate      *auth.Gate
	queue     *queue.Queue
	transport Transport
	htmlSafe  bool
}

// New builds an App. htmlSafe indicates the Transport renders inline
// markup and so outbound text should be HTML-escaped (spec §4.10);
// the terminal transport passes false.
func New(mux *session.Multiplexer, gate *auth.Gate, q *queue.Queue, transport Transport, htmlSafe bool) *App {
	return &App{mux: mux, gate: gate, queue: q, transport: transport, htmlSafe: htmlSafe}
}

// Run processes inbound operator messages until in is closed, and
// concurrently pumps multiplexer events out to the transport. Blocks
// until in is closed.
func (a *App) Run(in <-chan Inbound) {
	go a.pumpSessionEvents()
	for msg := range in {
		a.handle(msg.Identity, msg.Text)
	}
}

func (a *App) handle(identity, text string) {
	if !a.gate.IsAuthenticated(identity) {
		a.handleUnauthenticated(identity, text)
		return
	}

	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		a.handleCommand(identity, text)
		return
	}

	a.sendToActive(identity, text)
}

func (a *App) handleUnauthenticated(identity, text string) {
	if a.gate.IsPending(identity) {
		if a.gate.Attempt(identity, strings.TrimSpace(text)) {
			a.reply(identity, "authenticated")
		} else {
			a.reply(identity, "🔐 please enter password")
		}
		return
	}

	if a.gate.Challenge(identity) {
		a.reply(identity, "🔐 please enter password")
		return
	}

	// Challenged but Attempt hasn't run yet (race with IsPending
	// above is impossible under the gate's own mutex, but keep a
	// fallback per spec §4.8's "otherwise emit please authenticate").
	a.reply(identity, "please authenticate first")
}

func (a *App) handleCommand(identity, text string) {
	fields := strings.Fields(text)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/start":
		a.reply(identity, helpText)
	case "/new":
		a.cmdNew(identity, args)
	case "/switch":
		a.cmdSwitch(identity, args)
	case "/list":
		a.cmdList(identity)
	case "/close":
		a.cmdClose(identity, args)
	case "/rename":
		a.cmdRename(identity, args)
	case "/session":
		a.cmdSession(identity)
	case "/status":
		a.cmdStatus(identity)
	case "/stop":
		a.cmdStop(identity)
	case "/restart":
		a.cmdRestart(identity)
	default:
		a.reply(identity, fmt.Sprintf("unknown command %q", cmd))
	}
}

const helpText = "/new [name] [dir], /switch <id|name>, /list, /close [id], " +
	"/rename <name>, /status, /stop, /restart"

func (a *App) cmdNew(identity string, args []string) {
	var name, dir string
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) > 1 {
		dir = args[1]
	}
	s, err := a.mux.Create(name, dir)
	if err != nil {
		a.reply(identity, "error: "+err.Error())
		return
	}
	if s.ID == a.mux.ActiveID() {
		a.queue.Bind(s.ID)
	}
	a.reply(identity, fmt.Sprintf("created session %d (%s)", s.ID, s.Name))
}

func (a *App) cmdSwitch(identity string, args []string) {
	if len(args) == 0 {
		a.reply(identity, "usage: /switch <id|name>")
		return
	}
	s, err := a.mux.Switch(args[0])
	if err != nil {
		a.reply(identity, "error: "+err.Error())
		return
	}
	a.queue.Bind(s.ID)
	a.reply(identity, fmt.Sprintf("switched to session %d (%s)", s.ID, s.Name))
}

func (a *App) cmdList(identity string) {
	summaries := a.mux.List()
	if len(summaries) == 0 {
		a.reply(identity, "no sessions")
		return
	}
	var b strings.Builder
	for _, s := range summaries {
		marker := " "
		if s.IsActive {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %d  %-16s %-8s %s\n", marker, s.ID, s.Name, s.Status, s.WorkingDirectory)
	}
	a.reply(identity, b.String())
}

func (a *App) cmdClose(identity string, args []string) {
	id := 0
	if len(args) > 0 {
		fmt.Sscanf(args[0], "%d", &id)
	}
	if err := a.mux.Close(id); err != nil {
		a.reply(identity, "error: "+err.Error())
		return
	}
	a.reply(identity, "closed")
}

func (a *App) cmdRename(identity string, args []string) {
	if len(args) == 0 {
		a.reply(identity, "usage: /rename <name>")
		return
	}
	if err := a.mux.Rename(strings.Join(args, " ")); err != nil {
		a.reply(identity, "error: "+err.Error())
		return
	}
	a.reply(identity, "renamed")
}

func (a *App) cmdStatus(identity string) {
	id := a.mux.ActiveID()
	if id == 0 {
		a.reply(identity, "no active session")
		return
	}
	for _, s := range a.mux.List() {
		if s.ID == id {
			a.reply(identity, fmt.Sprintf("session %d (%s): %s, %d messages, queued=%d",
				s.ID, s.Name, s.Status, s.MessageCount, a.queue.Len()))
			return
		}
	}
}

// cmdSession reports the active session's usage info (spec.md:182).
func (a *App) cmdSession(identity string) {
	id := a.mux.ActiveID()
	if id == 0 {
		a.reply(identity, "no active session")
		return
	}
	for _, s := range a.mux.List() {
		if s.ID != id {
			continue
		}
		model := s.Model
		if model == "" {
			model = "unknown"
		}
		a.reply(identity, fmt.Sprintf("session %d (%s): model=%s, messages=%d, tokens in=%d out=%d, cost=$%.4f",
			s.ID, s.Name, model, s.MessageCount, s.InputTokens, s.OutputTokens, s.CostUSD))
		return
	}
}

// cmdStop clears the queue. The active session's worker is not
// stopped: a turn already in flight runs to completion.
func (a *App) cmdStop(identity string) {
	a.queue.Clear()
	a.reply(identity, "queue cleared (session not stopped)")
}

// cmdRestart clears the queue. The active session's worker is not
// restarted and its usage counters are kept.
func (a *App) cmdRestart(identity string) {
	a.queue.Clear()
	a.reply(identity, "queue cleared (session not restarted)")
}

func (a *App) sendToActive(identity, text string) {
	if err := a.mux.Send(text); err != nil {
		if a.queue.Enqueue(a.mux.ActiveID(), text) {
			a.reply(identity, "queued")
			return
		}
		a.reply(identity, "error: "+err.Error())
	}
}

// pumpSessionEvents forwards the multiplexer's output to the operator
// and drains the queue on each `done`-equivalent idle transition.
func (a *App) pumpSessionEvents() {
	for ev := range a.mux.Events() {
		switch ev.Type {
		case session.OutSessionMessage:
			a.reply(operatorIdentity, ev.Message)
			a.drainQueue(ev.SessionID)
		case session.OutSessionError:
			a.reply(operatorIdentity, "error: "+ev.Err.Error())
		case session.OutSessionCreated:
		}
	}
}

// drainQueue sends the next queued message, if any, for sessionID —
// called on the session's `done`-equivalent event (spec §4.9).
func (a *App) drainQueue(sessionID int) {
	head, ok := a.queue.Pop(sessionID)
	if !ok {
		return
	}
	if err := a.mux.Send(head); err != nil {
		logging.Warn(nil, "bridge: failed to dispatch queued message",
			zap.Int("session_id", sessionID), zap.Error(err))
	}
}

// operatorIdentity is the fixed identity used by the reference
// terminal transport (spec §4.8's "single-operator variant").
const operatorIdentity = "console"

// reply sends text to identity, chunked to the transport's size limit.
// When htmlSafe is set, each chunk is sent HTML-escaped first; a send
// failure on the escaped chunk is retried once as plain text, per spec
// §4.10's "a failed markup send falls back to plain text" — some chat
// transports reject malformed markup outright, and the unescaped
// original is still readable even if less safe.
func (a *App) reply(identity, text string) {
	chunks := framing.Split(text, framing.ChatMaxChars)
	for _, chunk := range chunks {
		plain := chunk
		sendChunk := chunk
		if a.htmlSafe {
			sendChunk = framing.EscapeHTMLStrict(chunk)
		}
		if err := a.transport.Send(identity, sendChunk); err != nil {
			if sendChunk == plain {
				logging.Warn(nil, "bridge: send failed", zap.String("identity", identity), zap.Error(err))
				return
			}
			logging.Warn(nil, "bridge: markup send failed, retrying as plain text",
				zap.String("identity", identity), zap.Error(err))
			if err := a.transport.Send(identity, plain); err != nil {
				logging.Warn(nil, "bridge: plain-text fallback send failed",
					zap.String("identity", identity), zap.Error(err))
				return
			}
		}
	}
}
