// Package session implements the Desktop Agent's session multiplexer
// (spec §4.6): an ordered set of Sessions, a current active id, and
// the create/switch/close/rename/list/send contract. Serialized
// through a single sync.Mutex, the way the teacher's internal/v1/room
// package serializes per-room client operations.
package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cliremote/cliremote/internal/agent/guard"
	"github.com/cliremote/cliremote/internal/agent/metrics"
	"github.com/cliremote/cliremote/internal/agent/worker"
	"github.com/cliremote/cliremote/internal/logging"
)

// Status mirrors a Session's lifecycle state.
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// Session is one assistant-CLI context anchored to a directory.
type Session struct {
	ID               int
	Name             string
	WorkingDirectory string
	Status           Status
	CreatedAt        time.Time
	LastActiveAt     time.Time
	MessageCount     int

	worker *worker.Worker
}

// Summary is the read-only projection returned by List (spec §4.6).
// The usage fields (spec.md:58) are read straight off the session's
// worker, which is the only thing that actually accumulates them.
type Summary struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	WorkingDirectory  string  `json:"workingDirectory"`
	Status            Status  `json:"status"`
	IsActive          bool    `json:"isActive"`
	MessageCount      int     `json:"messageCount"`
	RunningMinutes    float64 `json:"runningMinutes"`
	InputTokens       int64   `json:"inputTokens"`
	OutputTokens      int64   `json:"outputTokens"`
	CostUSD           float64 `json:"costUsd"`
	Model             string  `json:"model"`
	ProviderSessionID string  `json:"providerSessionId"`
}

// OutEventType enumerates the multiplexer's own event stream, one
// level up from worker.EventType: user output is re-emitted as
// sessionMessage without reformatting (spec §4.6).
type OutEventType string

const (
	OutSessionCreated OutEventType = "sessionCreated"
	OutSessionMessage OutEventType = "sessionMessage"
	OutSessionError   OutEventType = "sessionError"
)

// OutEvent is one item in the multiplexer's outbound event stream.
type OutEvent struct {
	Type      OutEventType
	SessionID int
	Message   string
	Err       error
}

// Multiplexer owns the session set.
type Multiplexer struct {
	mu       sync.Mutex
	sessions map[int]*Session
	order    []int
	activeID int
	nextID   int

	sessionCap int
	binaryPath string
	restartDly time.Duration
	guard      *guard.Guard

	out chan OutEvent
}

// New builds a Multiplexer. sessionCap is the configured session cap
// (SESSION_CAP); binaryPath and restartDelay are passed through to
// every worker.New call.
func New(sessionCap int, binaryPath string, restartDelay time.Duration, g *guard.Guard) *Multiplexer {
	return &Multiplexer{
		sessions:   make(map[int]*Session),
		sessionCap: sessionCap,
		binaryPath: binaryPath,
		restartDly: restartDelay,
		guard:      g,
		out:        make(chan OutEvent, 64),
	}
}

// Events returns the multiplexer's outbound event stream.
func (m *Multiplexer) Events() <-chan OutEvent {
	return m.out
}

// Create adds a new Session, starts its worker, and activates it if
// it is the first session (spec §4.6).
func (m *Multiplexer) Create(name, workingDirectory string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.sessionCap {
		return nil, fmt.Errorf("session cap reached (%d)", m.sessionCap)
	}

	canon, err := m.guard.Check(workingDirectory)
	if err != nil {
		return nil, err
	}

	m.nextID++
	id := m.nextID
	if name == "" {
		name = fmt.Sprintf("session-%d", id)
	}

	s := &Session{
		ID:               id,
		Name:             name,
		WorkingDirectory: canon,
		Status:           StatusIdle,
		CreatedAt:        time.Now(),
		LastActiveAt:     time.Now(),
		worker:           worker.New(fmt.Sprintf("%d", id), m.binaryPath, canon, m.restartDly),
	}

	m.sessions[id] = s
	m.order = append(m.order, id)
	if m.activeID == 0 {
		m.activeID = id
	}

	go m.pumpWorkerEvents(s)
	if err := s.worker.Start(); err != nil {
		delete(m.sessions, id)
		m.removeFromOrder(id)
		return nil, fmt.Errorf("start worker: %w", err)
	}

	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.emit(OutEvent{Type: OutSessionCreated, SessionID: id})
	logging.Info(nil, "session created", zap.Int("session_id", id), zap.String("working_directory", canon))
	return s, nil
}

// Switch resolves idOrName by numeric id first, then exact name match.
func (m *Multiplexer) Switch(idOrName string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.resolveLocked(idOrName)
	if !ok {
		return nil, fmt.Errorf("session %q not found", idOrName)
	}
	m.activeID = s.ID
	s.LastActiveAt = time.Now()
	return s, nil
}

// Close stops id's worker (default: active) and removes it. If the
// closed session was active, the oldest remaining session becomes
// active, or none if the set is now empty.
func (m *Multiplexer) Close(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 {
		id = m.activeID
	}
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %d not found", id)
	}

	s.worker.Close()
	delete(m.sessions, id)
	m.removeFromOrder(id)

	if m.activeID == id {
		if len(m.order) > 0 {
			m.activeID = m.order[0]
		} else {
			m.activeID = 0
		}
	}

	metrics.SessionsActive.Set(float64(len(m.sessions)))
	logging.Info(nil, "session closed", zap.Int("session_id", id))
	return nil
}

// Rename renames the active session.
func (m *Multiplexer) Rename(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[m.activeID]
	if !ok {
		return fmt.Errorf("no active session")
	}
	s.Name = name
	return nil
}

// List returns a Summary for every session, ordered by creation.
func (m *Multiplexer) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Summary, 0, len(m.order))
	for _, id := range m.order {
		s := m.sessions[id]
		usage := s.worker.Usage()
		out = append(out, Summary{
			ID:                s.ID,
			Name:              s.Name,
			WorkingDirectory:  s.WorkingDirectory,
			Status:            s.Status,
			IsActive:          s.ID == m.activeID,
			MessageCount:      s.MessageCount,
			RunningMinutes:    time.Since(s.CreatedAt).Minutes(),
			InputTokens:       usage.InputTokens,
			OutputTokens:      usage.OutputTokens,
			CostUSD:           usage.TotalCostUSD,
			Model:             s.worker.Model(),
			ProviderSessionID: s.worker.ProviderSessionID(),
		})
	}
	return out
}

// Send routes text to the active session's worker.
func (m *Multiplexer) Send(text string) error {
	m.mu.Lock()
	id := m.activeID
	if id == 0 {
		m.mu.Unlock()
		return fmt.Errorf("no active session")
	}
	m.mu.Unlock()
	return m.SendTo(id, text)
}

// SendTo routes text directly to sessionID's worker, regardless of
// which session is currently active. Used by the Hub-facing relay,
// since an inbound `message` frame names its target session
// explicitly (spec §8 scenario 5) rather than always targeting the
// active one the way the CLI/Bridge surface does.
func (m *Multiplexer) SendTo(sessionID int, text string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %d not found", sessionID)
	}
	if s.Status != StatusIdle {
		m.mu.Unlock()
		return fmt.Errorf("session %d is not idle", s.ID)
	}
	s.Status = StatusBusy
	s.LastActiveAt = time.Now()
	s.MessageCount++
	m.mu.Unlock()

	if err := s.worker.Send(text); err != nil {
		m.mu.Lock()
		s.Status = StatusIdle
		m.mu.Unlock()
		return err
	}
	return nil
}

// ActiveID returns the current active session id, or 0 if none.
func (m *Multiplexer) ActiveID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

func (m *Multiplexer) resolveLocked(idOrName string) (*Session, bool) {
	var id int
	if _, err := fmt.Sscanf(idOrName, "%d", &id); err == nil {
		if s, ok := m.sessions[id]; ok {
			return s, true
		}
	}
	for _, sid := range m.order {
		if m.sessions[sid].Name == idOrName {
			return m.sessions[sid], true
		}
	}
	return nil, false
}

func (m *Multiplexer) removeFromOrder(id int) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Multiplexer) emit(e OutEvent) {
	select {
	case m.out <- e:
	default:
		logging.Warn(nil, "multiplexer event buffer full, dropping", zap.String("type", string(e.Type)))
	}
}

// pumpWorkerEvents re-emits a worker's events as multiplexer events
// without reformatting (spec §4.6: "the multiplexer does not format").
func (m *Multiplexer) pumpWorkerEvents(s *Session) {
	for ev := range s.worker.Events() {
		switch ev.Type {
		case worker.EventMessage:
			// The worker has already released its busy lock when it emits
			// a message, so the session is idle before listeners see it.
			m.mu.Lock()
			s.Status = StatusIdle
			m.mu.Unlock()
			m.emit(OutEvent{Type: OutSessionMessage, SessionID: s.ID, Message: ev.Text})
		case worker.EventDone:
			m.mu.Lock()
			s.Status = StatusIdle
			m.mu.Unlock()
		case worker.EventError:
			m.emit(OutEvent{Type: OutSessionError, SessionID: s.ID, Err: ev.Err})
		case worker.EventExit:
			m.mu.Lock()
			s.Status = StatusIdle
			m.mu.Unlock()
		}
	}
}
