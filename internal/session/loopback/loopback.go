// Package loopback is an in-memory session client for development and tests.
// It never touches the network: connections succeed immediately, pairing is
// simulated and sent messages are recorded.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/session"
)

// Sent is one recorded outbound message.
type Sent struct {
	To   string
	Text string
}

// Client implements session.Client in memory.
type Client struct {
	events chan session.Event
	logger *logrus.Entry

	mu         sync.RWMutex
	connected  bool
	registered bool
	connects   int
	qrSeq      int
	connectErr error
	sendErr    error
	pairErr    error
	sent       []Sent
	pairedWith string
}

// Option configures a Client.
type Option func(*Client)

// Registered starts the client with stored credentials.
func Registered() Option {
	return func(c *Client) { c.registered = true }
}

// New creates a loopback client.
func New(opts ...Option) *Client {
	c := &Client{
		events: make(chan session.Event, 64),
		logger: logging.NewLogger("loopback"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the session when registered, otherwise asks for pairing.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	if err := c.connectErr; err != nil {
		c.mu.Unlock()
		return err
	}
	c.connected = true
	registered := c.registered
	c.qrSeq++
	qr := fmt.Sprintf("loopback-qr-%d", c.qrSeq)
	c.mu.Unlock()

	c.logger.Debug("Connected")
	if registered {
		c.emit(session.Opened{})
		return nil
	}
	c.emit(session.PairingNeeded{})
	c.emit(session.QRCode{Code: qr})
	return nil
}

// Disconnect closes the connection and reports it like a real client would.
func (c *Client) Disconnect() {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.mu.Unlock()
	if was {
		c.logger.Debug("Disconnected")
		c.emit(session.Closed{Reason: session.ReasonConnectionClosed})
	}
}

// Events returns the event stream.
func (c *Client) Events() <-chan session.Event {
	return c.events
}

// SendText records the message.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("loopback client not connected")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{To: to, Text: text})
	return nil
}

// PairPhone returns a fixed-shape code derived from the number.
func (c *Client) PairPhone(ctx context.Context, digits string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairErr != nil {
		return "", c.pairErr
	}
	if !c.connected {
		return "", fmt.Errorf("loopback client not connected")
	}
	c.pairedWith = digits
	tail := digits
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "LOOP-" + tail, nil
}

// IsRegistered reports whether credentials are stored.
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// ClearCredentials forgets the pairing.
func (c *Client) ClearCredentials(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = false
	c.pairedWith = ""
	return nil
}

// CompletePairing simulates the phone accepting the link.
func (c *Client) CompletePairing(id string) {
	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()
	c.emit(session.Paired{ID: id})
	c.emit(session.CredentialsUpdated{})
	c.emit(session.Opened{})
}

// Drop simulates the server closing the connection.
func (c *Client) Drop(reason session.Reason, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.emit(session.Closed{Reason: reason, Err: err})
}

// InjectMessage delivers msg as if it arrived from the network.
func (c *Client) InjectMessage(from, text string) {
	c.emit(session.MessageReceived{Message: session.Message{
		ID:        fmt.Sprintf("loop-%d", time.Now().UnixNano()),
		From:      from,
		Text:      text,
		Timestamp: time.Now(),
	}})
}

// FailConnect makes subsequent Connect calls return err. Nil clears it.
func (c *Client) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

// FailSend makes subsequent SendText calls return err. Nil clears it.
func (c *Client) FailSend(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// FailPair makes subsequent PairPhone calls return err. Nil clears it.
func (c *Client) FailPair(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairErr = err
}

// Sent returns a copy of every recorded outbound message.
func (c *Client) Sent() []Sent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Sent(nil), c.sent...)
}

// Connects returns how many times Connect was called.
func (c *Client) Connects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connects
}

// PairedWith returns the digits passed to the last successful PairPhone.
func (c *Client) PairedWith() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pairedWith
}

func (c *Client) emit(ev session.Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("Event buffer full, dropping")
	}
}

var _ session.Client = (*Client)(nil)
