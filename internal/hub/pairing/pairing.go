// Package pairing implements the pair-code generator and store
// described in spec §4.1: short human-transferable codes that let a
// phone attach to a waiting desktop.
//
// The store is a single mutex-guarded map, following the teacher
// codebase's "one structure, one lock" discipline
// (internal/v1/transport.Hub.rooms); it is never held across an
// outbound socket write.
package pairing

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

// CodeLength is the canonical (cloud) code length: 8 symbols with a
// separator inserted after the 4th for human readability. Spec §4.1
// requires picking one length at build time; the 4-character embedded
// variant is not wired into this Hub.
const CodeLength = 8

// alphabet excludes visually ambiguous characters (0 O 1 I).
const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// TTL is how long a pending pair code remains valid.
const TTL = 5 * time.Minute

var (
	// ErrNotFound means the code has no pending pair (never issued,
	// already confirmed, replaced, or reaped).
	ErrNotFound = errors.New("invalid pair code")
	// ErrExpired means the code existed but its TTL has elapsed; the
	// caller has already removed it from the store.
	ErrExpired = errors.New("pair code expired")
	// ErrSameRole means the confirming device declared the same role
	// as the initiator.
	ErrSameRole = errors.New("cannot pair same device types")
)

// Role is a device's declared role at auth/pair time.
type Role string

const (
	RoleDesktop Role = "desktop"
	RolePhone   Role = "phone"
)

// Pending is a single outstanding pair-code request.
type Pending struct {
	Code              string
	InitiatorDeviceID string
	InitiatorRole     Role
	ExpiresAt         time.Time
}

// Store tracks pending pair codes, keyed both by code and by
// initiating device so a fresh request can invalidate a device's
// prior code (spec §4.1: "a new request from the same
// initiatorDeviceId invalidates any prior pending code for that
// device").
type Store struct {
	mu        sync.Mutex
	byCode    map[string]*Pending
	byDevice  map[string]string // deviceId -> code
	ttl       time.Duration
	randomize func(n int) (string, error)
}

// NewStore builds an empty Store with the default TTL.
func NewStore() *Store {
	return &Store{
		byCode:    make(map[string]*Pending),
		byDevice:  make(map[string]string),
		ttl:       TTL,
		randomize: generateCode,
	}
}

// Request creates a fresh pending pair for deviceID, replacing any
// prior pending code for that same device. It tries up to 10 generated
// codes and returns an error if every one collides with a live pending
// code.
func (s *Store) Request(deviceID string, role Role) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.byDevice[deviceID]; ok {
		delete(s.byCode, prior)
	}

	var code string
	for attempt := 0; attempt < 10; attempt++ {
		c, err := s.randomize(CodeLength)
		if err != nil {
			return nil, err
		}
		if _, collide := s.byCode[c]; !collide {
			code = c
			break
		}
	}
	if code == "" {
		return nil, errors.New("pairing: could not allocate a unique code")
	}

	p := &Pending{
		Code:              code,
		InitiatorDeviceID: deviceID,
		InitiatorRole:     role,
		ExpiresAt:         time.Now().Add(s.ttl),
	}
	s.byCode[code] = p
	s.byDevice[deviceID] = code
	return p, nil
}

// Lookup normalizes and fetches a pending pair without consuming it.
// Returns ErrNotFound or ErrExpired (expired entries are removed as a
// side effect of Lookup, matching spec §4.1's "delete pair" on expiry).
func (s *Store) Lookup(rawCode string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(rawCode)
}

func (s *Store) lookupLocked(rawCode string) (*Pending, error) {
	code := Normalize(rawCode)
	p, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(p.ExpiresAt) {
		delete(s.byCode, code)
		delete(s.byDevice, p.InitiatorDeviceID)
		return nil, ErrExpired
	}
	return p, nil
}

// Confirm validates a confirming device/role against the pending pair
// for rawCode and, on success, deletes the pending entry. The pending
// entry is left intact on ErrSameRole so the user can retry from the
// correct side (spec §4.1).
func (s *Store) Confirm(rawCode, deviceID string, role Role) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookupLocked(rawCode)
	if err != nil {
		return nil, err
	}
	if role == p.InitiatorRole {
		return nil, ErrSameRole
	}

	code := Normalize(rawCode)
	delete(s.byCode, code)
	delete(s.byDevice, p.InitiatorDeviceID)
	_ = deviceID
	return p, nil
}

// Reap removes every pending pair whose TTL has elapsed and returns
// how many were removed (spec §4.5).
func (s *Store) Reap(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for code, p := range s.byCode {
		if now.After(p.ExpiresAt) {
			delete(s.byCode, code)
			delete(s.byDevice, p.InitiatorDeviceID)
			removed++
		}
	}
	return removed
}

// Len reports the number of live pending pairs, for metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCode)
}

// Normalize strips non-alphanumeric separators and uppercases a code,
// so "abcd-efgh", "ABCDEFGH", and "abcdefgh" all resolve to the same
// pending pair (spec §4.1, the "code normalisation" law in spec §8).
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

// Canonical inserts the human-readable dash after the 4th character.
func Canonical(normalized string) string {
	if len(normalized) != CodeLength {
		return normalized
	}
	return normalized[:4] + "-" + normalized[4:]
}

func generateCode(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
