// Package auth implements the Bridge's single-operator password gate
// (spec §4.8): an unknown operator identity is challenged for a
// password; the first textual reply is checked in constant-ish time
// against the configured shared secret.
package auth

import (
	"sync"

	hubauth "github.com/cliremote/cliremote/internal/hub/auth"
)

// Gate tracks which operator identities have authenticated.
type Gate struct {
	password string

	mu            sync.Mutex
	authenticated map[string]bool
	pending       map[string]bool
}

// New builds a Gate for the configured shared secret.
func New(password string) *Gate {
	return &Gate{
		password:      password,
		authenticated: make(map[string]bool),
		pending:       make(map[string]bool),
	}
}

// IsAuthenticated reports whether identity has already authenticated.
func (g *Gate) IsAuthenticated(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticated[identity]
}

// Challenge marks identity as awaiting a password reply. Returns true
// if this is the first time identity has been seen (caller should
// emit the "please enter password" prompt).
func (g *Gate) Challenge(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.authenticated[identity] || g.pending[identity] {
		return false
	}
	g.pending[identity] = true
	return true
}

// Attempt checks a password reply from identity. On match, identity
// moves into the authenticated set and true is returned; on mismatch,
// the caller should re-prompt.
func (g *Gate) Attempt(identity, text string) bool {
	ok := hubauth.ConstantTimeEqual(text, g.password)

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, identity)
	if ok {
		g.authenticated[identity] = true
	} else {
		g.pending[identity] = true
	}
	return ok
}

// IsPending reports whether identity has been challenged and is
// expected to reply with a password next.
func (g *Gate) IsPending(identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[identity]
}
