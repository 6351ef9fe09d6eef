// Package wire defines the JSON frame types exchanged over the Hub's
// WebSocket endpoint and relayed unchanged between a Desktop Agent and
// a Phone Client. Every frame is a JSON object carrying a "type" tag;
// handlers decode the envelope first and then the type-specific
// payload from the raw "payload"/field-level JSON.
package wire

import "encoding/json"

// Frame types the Hub dispatcher accepts or originates. Relayed frames
// (Message and the Session* family) pass through the Hub unchanged.
const (
	TypeAuth          = "auth"
	TypeAuthSuccess   = "auth_success"
	TypeAuthError     = "auth_error"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeRejoin        = "rejoin"
	TypeRejoinSuccess = "rejoin_success"
	TypeRejoinFailed  = "rejoin_failed"
	TypePaired        = "paired"
	TypePeerOffline   = "peer_offline"
	TypeUnpaired      = "unpaired"
	TypeError         = "error"
	TypeMessage       = "message"

	TypeSessionList     = "session_list"
	TypeSessionCreate   = "session_create"
	TypeSessionCreated  = "session_created"
	TypeSessionSwitch   = "session_switch"
	TypeSessionSwitched = "session_switched"
	TypeSessionDelete   = "session_delete"
	TypeSessionDeleted  = "session_deleted"
	TypeSessionError    = "session_error"
)

// relayableTypes are forwarded from one peer to the other unmodified
// (spec §4.3: "message" and all "session_*" control frames).
var relayableTypes = map[string]bool{
	TypeMessage:         true,
	TypeSessionList:     true,
	TypeSessionCreate:   true,
	TypeSessionCreated:  true,
	TypeSessionSwitch:   true,
	TypeSessionSwitched: true,
	TypeSessionDelete:   true,
	TypeSessionDeleted:  true,
	TypeSessionError:    true,
}

// IsRelayable reports whether a frame type is forwarded by the Hub
// rather than handled by the dispatcher itself.
func IsRelayable(frameType string) bool {
	return relayableTypes[frameType]
}

// Envelope is the outer shape every inbound/outbound frame shares.
// Concrete payload fields live alongside Type in the same JSON object
// (flat, not nested), matching spec §6/§4.3's frame examples; Raw
// preserves the original bytes so the dispatcher can relay a frame
// byte-for-byte without round-tripping it through Go structs (the
// "relay transparency" law in spec §8).
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// DecodeEnvelope extracts the type tag and keeps the original bytes
// for transparent relay.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	e.Raw = append(json.RawMessage(nil), data...)
	return e, nil
}

// MessageEnvelope is the user-visible payload carried by a "message"
// frame (spec §3).
type MessageEnvelope struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
}

// MessageFrame is a full "message" frame.
type MessageFrame struct {
	Type    string          `json:"type"`
	Payload MessageEnvelope `json:"payload"`
}

// AuthFrame is the inbound "auth" frame. Token is "deviceId:deviceName:role".
type AuthFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthSuccessFrame acknowledges a successful auth.
type AuthSuccessFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// AuthErrorFrame reports a malformed auth token. The socket stays open.
type AuthErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// RejoinFrame asks the Hub to reattach this connection to an existing room.
type RejoinFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// RejoinSuccessFrame confirms a rejoin; PeerOnline reflects whether the
// other device currently has a live connection.
type RejoinSuccessFrame struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	PeerOnline bool   `json:"peerOnline"`
}

// RejoinFailedFrame reports why a rejoin could not complete.
type RejoinFailedFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PairedFrame notifies both peers of a room's (re)establishment.
type PairedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// PeerOfflineFrame notifies the remaining peer that the other side dropped.
type PeerOfflineFrame struct {
	Type string `json:"type"`
}

// UnpairedFrame notifies a device that its room no longer exists.
type UnpairedFrame struct {
	Type string `json:"type"`
}

// ErrorFrame carries a human-readable protocol-violation reason. The
// socket stays open (spec §7).
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SessionInfo mirrors the multiplexer's public Summary shape. It is
// duplicated here rather than imported from internal/agent/session so
// this low-level package stays independent of the session domain
// logic that both the agent and bridge build on top of it.
type SessionInfo struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	WorkingDirectory  string  `json:"workingDirectory"`
	Status            string  `json:"status"`
	IsActive          bool    `json:"isActive"`
	MessageCount      int     `json:"messageCount"`
	RunningMinutes    float64 `json:"runningMinutes"`
	InputTokens       int64   `json:"inputTokens"`
	OutputTokens      int64   `json:"outputTokens"`
	CostUSD           float64 `json:"costUsd"`
	Model             string  `json:"model"`
	ProviderSessionID string  `json:"providerSessionId"`
}

// SessionListFrame is both the `session_list` request (no Sessions)
// and its reply (Sessions populated) — the protocol has no separate
// response type for list, per spec §6's frame catalog.
type SessionListFrame struct {
	Type     string        `json:"type"`
	Sessions []SessionInfo `json:"sessions,omitempty"`
}

// SessionCreateFrame is the `session_create` request.
type SessionCreateFrame struct {
	Type             string `json:"type"`
	Name             string `json:"name,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// SessionCreatedFrame is the `session_created` reply to a successful create.
type SessionCreatedFrame struct {
	Type    string      `json:"type"`
	Session SessionInfo `json:"session"`
}

// SessionSwitchFrame is the `session_switch` request.
type SessionSwitchFrame struct {
	Type     string `json:"type"`
	IDOrName string `json:"idOrName"`
}

// SessionSwitchedFrame is the `session_switched` reply.
type SessionSwitchedFrame struct {
	Type    string      `json:"type"`
	Session SessionInfo `json:"session"`
}

// SessionDeleteFrame is the `session_delete` request; ID zero means
// "the active session" (spec §4.6 close defaults to active).
type SessionDeleteFrame struct {
	Type string `json:"type"`
	ID   int    `json:"id,omitempty"`
}

// SessionDeletedFrame is the `session_deleted` reply.
type SessionDeletedFrame struct {
	Type string `json:"type"`
	ID   int    `json:"id"`
}

// SessionErrorFrame reports a session-multiplexer error (working
// directory not allowed, cap reached, busy, no active session) back
// to the requesting peer (spec §7).
type SessionErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// PingFrame/PongFrame are the heartbeat frames.
type PingFrame struct {
	Type string `json:"type"`
}

type PongFrame struct {
	Type string `json:"type"`
}

// Marshal is a small helper so callers don't repeat json.Marshal+panic checks.
func Marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every type above is a plain struct of strings/bools/ints;
		// a marshal failure here means a programming error, not a
		// runtime condition callers can recover from.
		panic("wire: marshal failed: " + err.Error())
	}
	return b
}

// Unmarshal decodes raw frame bytes into a concrete frame struct.
func Unmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
