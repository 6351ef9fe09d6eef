// Package relay bridges the Desktop Agent's hub connection
// (internal/agent/hubclient) to its session multiplexer
// (internal/agent/session): inbound `message` and `session_*` frames
// from the phone become multiplexer calls, and multiplexer output
// events become outbound frames sent back over the hub connection.
package relay

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/agent/session"
	"github.com/cliremote/cliremote/internal/logging"
	"github.com/cliremote/cliremote/internal/wire"
)

// Sender is the subset of *hubclient.Client this package needs.
type Sender interface {
	Send(frame []byte) error
}

// Router owns the translation between wire frames and multiplexer calls.
type Router struct {
	mux    *session.Multiplexer
	client Sender
}

// New builds a Router over mux, sending its translated output via client.
func New(mux *session.Multiplexer, client Sender) *Router {
	return &Router{mux: mux, client: client}
}

// Run consumes inbound frames until in is closed and, concurrently,
// pumps multiplexer output events out. Blocks until in is closed.
func (r *Router) Run(in <-chan []byte) {
	go r.pumpSessionEvents()
	for raw := range in {
		r.handleFrame(raw)
	}
}

func (r *Router) handleFrame(raw []byte) {
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		logging.Warn(nil, "relay: malformed frame", zap.Error(err))
		return
	}

	switch env.Type {
	case wire.TypeMessage:
		r.handleMessage(env.Raw)
	case wire.TypeSessionList:
		r.handleSessionList()
	case wire.TypeSessionCreate:
		r.handleSessionCreate(env.Raw)
	case wire.TypeSessionSwitch:
		r.handleSessionSwitch(env.Raw)
	case wire.TypeSessionDelete:
		r.handleSessionDelete(env.Raw)
	}
}

func (r *Router) handleMessage(raw []byte) {
	var f wire.MessageFrame
	if err := wire.Unmarshal(raw, &f); err != nil {
		r.sendError("malformed message frame")
		return
	}

	sessionID, err := strconv.Atoi(f.Payload.SessionID)
	if err != nil || sessionID == 0 {
		if err := r.mux.Send(f.Payload.Content); err != nil {
			r.sendError(err.Error())
		}
		return
	}
	if err := r.mux.SendTo(sessionID, f.Payload.Content); err != nil {
		r.sendError(err.Error())
	}
}

func (r *Router) handleSessionList() {
	summaries := r.mux.List()
	infos := make([]wire.SessionInfo, len(summaries))
	for i, s := range summaries {
		infos[i] = toWireInfo(s)
	}
	r.send(wire.SessionListFrame{Type: wire.TypeSessionList, Sessions: infos})
}

func (r *Router) handleSessionCreate(raw []byte) {
	var f wire.SessionCreateFrame
	if err := wire.Unmarshal(raw, &f); err != nil {
		r.sendError("malformed session_create frame")
		return
	}
	s, err := r.mux.Create(f.Name, f.WorkingDirectory)
	if err != nil {
		r.sendError(err.Error())
		return
	}
	for _, sum := range r.mux.List() {
		if sum.ID == s.ID {
			r.send(wire.SessionCreatedFrame{Type: wire.TypeSessionCreated, Session: toWireInfo(sum)})
			return
		}
	}
}

func (r *Router) handleSessionSwitch(raw []byte) {
	var f wire.SessionSwitchFrame
	if err := wire.Unmarshal(raw, &f); err != nil {
		r.sendError("malformed session_switch frame")
		return
	}
	s, err := r.mux.Switch(f.IDOrName)
	if err != nil {
		r.sendError(err.Error())
		return
	}
	for _, sum := range r.mux.List() {
		if sum.ID == s.ID {
			r.send(wire.SessionSwitchedFrame{Type: wire.TypeSessionSwitched, Session: toWireInfo(sum)})
			return
		}
	}
}

func (r *Router) handleSessionDelete(raw []byte) {
	var f wire.SessionDeleteFrame
	if err := wire.Unmarshal(raw, &f); err != nil {
		r.sendError("malformed session_delete frame")
		return
	}
	id := f.ID
	if id == 0 {
		id = r.mux.ActiveID()
	}
	if err := r.mux.Close(f.ID); err != nil {
		r.sendError(err.Error())
		return
	}
	r.send(wire.SessionDeletedFrame{Type: wire.TypeSessionDeleted, ID: id})
}

func (r *Router) pumpSessionEvents() {
	for ev := range r.mux.Events() {
		switch ev.Type {
		case session.OutSessionMessage:
			r.send(wire.MessageFrame{
				Type: wire.TypeMessage,
				Payload: wire.MessageEnvelope{
					ID:        uuid.NewString(),
					Content:   ev.Message,
					Timestamp: time.Now().UnixMilli(),
					SessionID: strconv.Itoa(ev.SessionID),
				},
			})
		case session.OutSessionError:
			r.send(wire.SessionErrorFrame{Type: wire.TypeSessionError, Error: ev.Err.Error()})
		}
	}
}

func toWireInfo(s session.Summary) wire.SessionInfo {
	return wire.SessionInfo{
		ID:                s.ID,
		Name:              s.Name,
		WorkingDirectory:  s.WorkingDirectory,
		Status:            string(s.Status),
		IsActive:          s.IsActive,
		MessageCount:      s.MessageCount,
		RunningMinutes:    s.RunningMinutes,
		InputTokens:       s.InputTokens,
		OutputTokens:      s.OutputTokens,
		CostUSD:           s.CostUSD,
		Model:             s.Model,
		ProviderSessionID: s.ProviderSessionID,
	}
}

func (r *Router) send(v any) {
	if err := r.client.Send(wire.Marshal(v)); err != nil {
		logging.Warn(nil, "relay: send failed", zap.Error(err))
	}
}

func (r *Router) sendError(msg string) {
	r.send(wire.SessionErrorFrame{Type: wire.TypeSessionError, Error: msg})
}
