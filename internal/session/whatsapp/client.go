// Package whatsapp adapts a whatsmeow multi-device client to session.Client.
// Device credentials live in a SQLite database through whatsmeow's sqlstore.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/session"
)

// keepAliveLimit is how many consecutive keepalive failures close the session.
const keepAliveLimit = 3

// Options configures the adapter.
type Options struct {
	// Database is the SQLite file holding device credentials.
	Database string
	// DeviceName is shown in the phone's linked-devices list, "Browser (OS)".
	DeviceName string
}

// Client implements session.Client over whatsmeow.
type Client struct {
	opts      Options
	container *sqlstore.Container
	logger    *logrus.Entry
	events    chan session.Event
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	wa       *whatsmeow.Client
	qrCancel context.CancelFunc
}

// New opens the credential store and prepares a client for the first stored
// device, or a fresh device when none exists.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.Database == "" {
		return nil, errors.New("whatsapp: database path is required")
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "Chrome (Linux)"
	}

	log := logging.NewLogger("whatsapp")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", opts.Database)
	container, err := sqlstore.New(ctx, "sqlite", dsn, newLogger(log.WithField("module", "Database")))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}
	store.DeviceProps.Os = proto.String(deviceOS(opts.DeviceName))

	c := &Client{
		opts:      opts,
		container: container,
		logger:    log,
		events:    make(chan session.Event, 64),
		done:      make(chan struct{}),
	}
	c.wa = c.newWAClient(device)
	return c, nil
}

func (c *Client) newWAClient(device *store.Device) *whatsmeow.Client {
	wa := whatsmeow.NewClient(device, newLogger(c.logger.WithField("module", "Client")))
	// Reconnects are owned by the session controller.
	wa.EnableAutoReconnect = false
	wa.AddEventHandler(c.handleEvent)
	return wa
}

// Connect dials the server. Unpaired devices first open a QR channel whose
// codes are forwarded as QRCode events.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wa.IsConnected() {
		return nil
	}
	if c.wa.Store.ID == nil {
		if c.qrCancel != nil {
			c.qrCancel()
		}
		qrCtx, cancel := context.WithCancel(ctx)
		ch, err := c.wa.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("open qr channel: %w", err)
		}
		c.qrCancel = cancel
		c.emit(session.PairingNeeded{})
		go c.forwardQR(ch)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Disconnect closes the websocket without emitting a close event.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qrCancel != nil {
		c.qrCancel()
		c.qrCancel = nil
	}
	c.wa.Disconnect()
}

// Close disconnects and releases the credential store.
func (c *Client) Close() error {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.done) })
	return c.container.Close()
}

// Events returns the event stream.
func (c *Client) Events() <-chan session.Event {
	return c.events
}

// SendText sends a plain conversation message. to may be a full JID or a
// phone number with optional "+".
func (c *Client) SendText(ctx context.Context, to, text string) error {
	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()

	resp, err := wa.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return fmt.Errorf("send to %s: %w", jid, err)
	}
	c.logger.WithFields(logrus.Fields{"to": jid.String(), "id": resp.ID}).Debug("Message sent")
	return nil
}

// PairPhone asks the server for an 8-character linking code.
func (c *Client) PairPhone(ctx context.Context, digits string) (string, error) {
	c.mu.Lock()
	wa := c.wa
	c.mu.Unlock()
	return wa.PairPhone(ctx, digits, true, whatsmeow.PairClientChrome, c.opts.DeviceName)
}

// IsRegistered reports whether the device has a stored identity.
func (c *Client) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wa.Store.ID != nil
}

// ClearCredentials removes the stored device and starts over with a fresh one.
func (c *Client) ClearCredentials(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.wa
	if old.Store.ID != nil {
		if old.IsConnected() {
			if err := old.Logout(ctx); err != nil {
				c.logger.WithError(err).Warn("Logout request failed, deleting device locally")
			}
		}
		if old.Store.ID != nil {
			if err := old.Store.Delete(ctx); err != nil {
				return fmt.Errorf("delete device: %w", err)
			}
		}
	}
	old.Disconnect()
	old.RemoveEventHandlers()
	c.wa = c.newWAClient(c.container.NewDevice())
	return nil
}

func (c *Client) forwardQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(session.QRCode{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.Debug("QR pairing completed")
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(session.Closed{Reason: session.ReasonTimeout, Err: errors.New("pairing QR expired")})
		case whatsmeow.QRChannelEventError:
			c.emit(session.Closed{Reason: session.ReasonUnknown, Err: item.Error})
		default:
			c.logger.WithField("event", item.Event).Warn("Unexpected QR channel event")
			c.emit(session.Closed{Reason: session.ReasonUnknown, Err: fmt.Errorf("qr channel: %s", item.Event)})
		}
	}
}

func (c *Client) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		c.emit(session.Opened{})
	case *events.PairSuccess:
		c.emit(session.Paired{ID: e.ID.String()})
		c.emit(session.CredentialsUpdated{})
	case *events.Disconnected:
		c.emit(session.Closed{Reason: session.ReasonConnectionLost})
	case *events.KeepAliveTimeout:
		if e.ErrorCount >= keepAliveLimit {
			c.logger.WithField("failures", e.ErrorCount).Warn("Keepalive failing, dropping connection")
			go c.dropAfterTimeout()
		}
	case *events.LoggedOut:
		c.emit(session.Closed{Reason: session.ReasonLoggedOut, Err: fmt.Errorf("logged out: %s", e.Reason)})
	case *events.ConnectFailure:
		reason := session.ReasonConnectionClosed
		if e.Reason.IsLoggedOut() {
			reason = session.ReasonLoggedOut
		}
		c.emit(session.Closed{Reason: reason, Err: fmt.Errorf("connect failure %d: %s", e.Reason, e.Message)})
	case *events.StreamReplaced:
		c.emit(session.Closed{Reason: session.ReasonUnknown, Err: errors.New("stream replaced by another client")})
	case *events.TemporaryBan:
		c.emit(session.Closed{Reason: session.ReasonUnknown, Err: fmt.Errorf("temporary ban: %s", e.String())})
	case *events.Message:
		if msg, ok := toMessage(e); ok {
			c.emit(session.MessageReceived{Message: msg})
		}
	}
}

func (c *Client) dropAfterTimeout() {
	c.mu.Lock()
	c.wa.Disconnect()
	c.mu.Unlock()
	c.emit(session.Closed{Reason: session.ReasonTimeout, Err: errors.New("keepalive timeout")})
}

// emit blocks until the controller takes the event or the client is closed.
func (c *Client) emit(ev session.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// toMessage keeps text messages from one-to-one chats not sent by us.
func toMessage(e *events.Message) (session.Message, bool) {
	info := e.Info
	if info.IsFromMe || info.IsGroup {
		return session.Message{}, false
	}
	if info.Chat.Server != types.DefaultUserServer && info.Chat.Server != types.HiddenUserServer {
		return session.Message{}, false
	}

	text := e.Message.GetConversation()
	if text == "" {
		text = e.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return session.Message{}, false
	}
	return session.Message{
		ID:        info.ID,
		From:      info.Chat.String(),
		PushName:  info.PushName,
		Text:      text,
		Timestamp: info.Timestamp,
	}, true
}

// ParseRecipient accepts a JID ("111@s.whatsapp.net") or a phone number
// ("+111", "111") and returns the user JID.
func ParseRecipient(to string) (types.JID, error) {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", to, err)
		}
		return jid, nil
	}
	digits := strings.TrimPrefix(to, "+")
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return types.JID{}, fmt.Errorf("invalid recipient %q", to)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// deviceOS extracts the OS part of "Browser (OS)".
func deviceOS(name string) string {
	if i := strings.Index(name, "("); i >= 0 {
		if j := strings.Index(name[i:], ")"); j > 1 {
			return name[i+1 : i+j]
		}
	}
	return name
}

var _ session.Client = (*Client)(nil)
