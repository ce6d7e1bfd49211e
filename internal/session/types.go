// Package session owns the messaging-session lifecycle: connecting,
// pairing, reconnecting after transient drops and the outbound send path.
package session

import (
	"context"
	"time"
)

// Phase is the coarse connection state of the session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAwaitingPairing
	PhaseOpen
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingPairing:
		return "awaiting_pairing"
	case PhaseOpen:
		return "open"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// State is a snapshot of the controller's view of the session.
type State struct {
	Phase      Phase
	Registered bool
	LastError  error
}

// Reason classifies why a connection closed.
type Reason string

const (
	ReasonTimeout          Reason = "timed out"
	ReasonConnectionLost   Reason = "connection lost"
	ReasonConnectionClosed Reason = "connection closed"
	ReasonRestartRequired  Reason = "restart required"
	ReasonLoggedOut        Reason = "logged out"
	ReasonUnknown          Reason = "unknown"
)

// Transient reports whether the session should reconnect on its own.
func (r Reason) Transient() bool {
	switch r {
	case ReasonTimeout, ReasonConnectionLost, ReasonConnectionClosed, ReasonRestartRequired:
		return true
	}
	return false
}

// Message is an inbound text message from a user chat.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	PushName  string    `json:"pushName,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is produced by a Client and consumed by the Controller.
type Event interface {
	sessionEvent()
}

// Opened reports the connection is authenticated and usable.
type Opened struct{}

// Closed reports the connection dropped.
type Closed struct {
	Reason Reason
	Err    error
}

// PairingNeeded reports the client holds no credentials.
type PairingNeeded struct{}

// QRCode carries a fresh pairing QR payload. Codes rotate.
type QRCode struct {
	Code string
}

// Paired reports a successful pairing.
type Paired struct {
	ID string
}

// CredentialsUpdated reports the client persisted new credentials.
type CredentialsUpdated struct{}

// MessageReceived carries an inbound user message.
type MessageReceived struct {
	Message Message
}

func (Opened) sessionEvent()             {}
func (Closed) sessionEvent()             {}
func (PairingNeeded) sessionEvent()      {}
func (QRCode) sessionEvent()             {}
func (Paired) sessionEvent()             {}
func (CredentialsUpdated) sessionEvent() {}
func (MessageReceived) sessionEvent()    {}

// Client is the messaging library seen by the controller.
type Client interface {
	// Connect starts connecting. Progress is reported through Events.
	Connect(ctx context.Context) error
	Disconnect()
	Events() <-chan Event
	SendText(ctx context.Context, to, text string) error
	// PairPhone requests a phone-number pairing code. digits carries no "+".
	PairPhone(ctx context.Context, digits string) (string, error)
	IsRegistered() bool
	ClearCredentials(ctx context.Context) error
}

// PairingMode selects how a device is linked.
type PairingMode string

const (
	PairingQR   PairingMode = "qr"
	PairingCode PairingMode = "code"
)

// ParsePairingMode maps "qr" and "code"; anything else is an error.
func ParsePairingMode(s string) (PairingMode, bool) {
	switch PairingMode(s) {
	case PairingQR, PairingCode:
		return PairingMode(s), true
	}
	return "", false
}

// PairingArtifact is what RequestPairing hands back to the caller.
type PairingArtifact struct {
	Mode      PairingMode `json:"mode"`
	Code      string      `json:"code,omitempty"`
	ForNumber string      `json:"forNumber,omitempty"`
	Notice    string      `json:"notice,omitempty"`
}
