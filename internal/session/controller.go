package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neboloop/wabot/internal/apperr"
	"github.com/neboloop/wabot/internal/lifecycle"
	"github.com/neboloop/wabot/internal/logging"
)

// Notices broadcast to observers.
const (
	noticeNotLinked     = "WhatsApp account not linked. Please choose a pairing method."
	noticeLoggedOut     = "Logged out. Please initiate pairing."
	noticeConnectFailed = "Connection failed. Please initiate pairing."
	noticeQRPending     = "QR code will be displayed if a new session is required."
	noticeCodePending   = "Pairing code will be sent once the connection is ready."
	noticeOpened        = "Connection opened."
)

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// MessageHandler receives inbound user messages. It runs on its own goroutine.
type MessageHandler func(ctx context.Context, msg Message)

// connectFailed is posted to the event loop when a dial attempt errors.
type connectFailed struct {
	err error
}

// Controller drives a Client through the session state machine. Client events
// are consumed by a single goroutine; only that goroutine changes the phase
// after Start.
type Controller struct {
	client Client
	bus    *lifecycle.Manager
	logger *logrus.Entry

	backoffBase time.Duration
	backoffMax  time.Duration
	phone       string

	mu        sync.RWMutex
	state     State
	status    string
	mode      PairingMode
	lastQR    string
	autoPair  bool
	handler   MessageHandler
	attempt   int
	retry     *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
	failures  chan connectFailed
	handlerWG sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithPairing sets the initial pairing mode. In code mode with a phone number
// the controller requests a pairing code as soon as the client asks to pair.
func WithPairing(mode PairingMode, phone string) Option {
	return func(c *Controller) {
		if mode != "" {
			c.mode = mode
		}
		c.phone = phone
	}
}

// WithBackoff overrides the reconnect delay bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Controller) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// NewController wraps client. Events are published on bus.
func NewController(client Client, bus *lifecycle.Manager, opts ...Option) *Controller {
	c := &Controller{
		client:      client,
		bus:         bus,
		logger:      logging.NewLogger("session"),
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffMax,
		mode:        PairingQR,
		status:      "Session not started.",
		failures:    make(chan connectFailed, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetMessageHandler installs the receiver for inbound messages.
func (c *Controller) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Start launches the event loop and the first connection attempt. A failed
// first attempt is retried like any transient drop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.running = true
	c.attempt = 0
	c.autoPair = c.mode == PairingCode && c.phone != ""
	c.state = State{Phase: PhaseConnecting, Registered: c.client.IsRegistered()}
	registered := c.state.Registered
	runCtx := c.ctx
	c.mu.Unlock()

	go c.run(runCtx)

	c.setStatus("Connecting...")
	if !registered {
		c.logger.Info("No stored credentials, pairing required")
		c.bus.Emit(lifecycle.EventPairingRequired, noticeNotLinked)
	}
	go c.dial(runCtx)
	return nil
}

// Stop disconnects and waits for the event loop and running handlers.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.state.Phase = PhaseClosing
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	c.client.Disconnect()
	cancel()
	<-done
	c.handlerWG.Wait()

	c.mu.Lock()
	c.state = State{Phase: PhaseDisconnected, Registered: c.client.IsRegistered()}
	c.lastQR = ""
	c.mu.Unlock()
	c.setStatus("Session stopped.")
}

// IsReady reports whether sends can be attempted.
func (c *Controller) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Phase == PhaseOpen
}

// State returns a snapshot of the session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// StatusText returns the last status notice.
func (c *Controller) StatusText() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastQR returns the most recent pairing QR payload, if any.
func (c *Controller) LastQR() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastQR
}

// Send delivers text to a chat. It never retries.
func (c *Controller) Send(ctx context.Context, to, text string) error {
	if !c.IsReady() {
		return apperr.ErrNotReady
	}
	if err := c.client.SendText(ctx, to, text); err != nil {
		c.logger.WithError(err).WithField("to", to).Error("Failed to send message")
		return apperr.Wrap(err, apperr.CodeSendFailed, "Failed to send message.")
	}
	return nil
}

// RequestPairing starts linking this device. Phone mode failures fall back to
// QR mode and are still returned to the caller.
func (c *Controller) RequestPairing(ctx context.Context, mode PairingMode, phone string) (PairingArtifact, error) {
	c.mu.RLock()
	st, running, runCtx := c.state, c.running, c.ctx
	c.mu.RUnlock()

	if !running {
		return PairingArtifact{}, apperr.New(apperr.CodeNotReady, "Bot is not initialized yet.")
	}
	if st.Registered && st.Phase == PhaseOpen {
		return PairingArtifact{}, apperr.New(apperr.CodeInvalidInput, "Device is already linked.")
	}
	dialing := st.Phase != PhaseAwaitingPairing
	if st.Phase == PhaseDisconnected {
		c.setPhase(PhaseConnecting)
		go c.dial(runCtx)
	}

	switch mode {
	case PairingQR:
		c.mu.Lock()
		c.mode = PairingQR
		qr := c.lastQR
		c.mu.Unlock()
		if qr != "" {
			c.bus.Emit(lifecycle.EventQRCode, qr)
		}
		return PairingArtifact{Mode: PairingQR, Code: qr, Notice: noticeQRPending}, nil

	case PairingCode:
		if !phonePattern.MatchString(phone) {
			err := apperr.New(apperr.CodeInvalidInput, "Invalid phone number format. Must include country code e.g. +123...").
				WithDetail("phoneNumber", phone)
			c.fallbackToQR(err.Message)
			return PairingArtifact{}, err
		}

		if dialing {
			// A code can only be requested on a live socket; ask on the next QR.
			c.mu.Lock()
			c.mode = PairingCode
			c.phone = phone
			c.autoPair = true
			c.mu.Unlock()
			c.logger.WithField("phone", phone).Info("Pairing code will be requested once connected")
			return PairingArtifact{Mode: PairingCode, ForNumber: phone, Notice: noticeCodePending}, nil
		}

		c.logger.WithField("phone", phone).Info("Requesting pairing code")
		code, err := c.client.PairPhone(ctx, strings.TrimPrefix(phone, "+"))
		if err != nil {
			c.logger.WithError(err).WithField("phone", phone).Error("Failed to get pairing code")
			c.fallbackToQR("Failed to get pairing code.")
			return PairingArtifact{}, apperr.Wrap(err, apperr.CodePairingFailed, "Failed to get pairing code.")
		}

		c.mu.Lock()
		c.mode = PairingCode
		c.mu.Unlock()
		c.bus.Emit(lifecycle.EventPairingCode, lifecycle.PairingCode{Code: code, ForNumber: phone})
		return PairingArtifact{Mode: PairingCode, Code: code, ForNumber: phone}, nil

	default:
		return PairingArtifact{}, apperr.Newf(apperr.CodeInvalidInput, "Unknown pairing method %q", mode)
	}
}

func (c *Controller) fallbackToQR(notice string) {
	c.mu.Lock()
	c.mode = PairingQR
	qr := c.lastQR
	c.mu.Unlock()

	c.bus.Emit(lifecycle.EventError, notice)
	if qr != "" {
		c.bus.Emit(lifecycle.EventQRCode, qr)
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	events := c.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.failures:
			c.onConnectFailed(ctx, f.err)
		case ev, ok := <-events:
			if !ok {
				c.logger.Warn("Session client closed its event stream")
				return
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case Opened:
		c.mu.Lock()
		c.state = State{Phase: PhaseOpen, Registered: true}
		c.status = noticeOpened
		c.attempt = 0
		c.lastQR = ""
		c.mu.Unlock()
		c.logger.Info("Session connection opened")
		c.bus.Status(noticeOpened)
		c.bus.Emit(lifecycle.EventSessionOpened, nil)

	case Closed:
		c.onClosed(ctx, e)

	case PairingNeeded:
		c.mu.Lock()
		c.state.Phase = PhaseAwaitingPairing
		c.state.Registered = false
		c.mu.Unlock()
		c.bus.Emit(lifecycle.EventPairingRequired, noticeNotLinked)

	case QRCode:
		c.mu.Lock()
		c.state.Phase = PhaseAwaitingPairing
		c.lastQR = e.Code
		auto := c.autoPair
		c.autoPair = false
		phone := c.phone
		c.mu.Unlock()
		c.logger.Debug("Pairing QR code received")
		c.bus.Emit(lifecycle.EventQRCode, e.Code)
		if auto {
			go func() {
				if _, err := c.RequestPairing(ctx, PairingCode, phone); err != nil {
					c.logger.WithError(err).Warn("Automatic phone pairing failed, falling back to QR")
				}
			}()
		}

	case Paired:
		c.mu.Lock()
		c.state.Phase = PhaseConnecting
		c.state.Registered = true
		c.lastQR = ""
		c.mu.Unlock()
		c.logger.WithField("id", e.ID).Info("Device paired")
		c.setStatus(fmt.Sprintf("Device linked as %s.", e.ID))

	case CredentialsUpdated:
		registered := c.client.IsRegistered()
		c.mu.Lock()
		c.state.Registered = registered
		c.mu.Unlock()
		c.logger.Debug("Session credentials updated")

	case MessageReceived:
		c.logger.WithField("from", e.Message.From).Debug("Inbound message")
		c.bus.Emit(lifecycle.EventMessageReceived, e.Message)
		c.mu.RLock()
		h := c.handler
		c.mu.RUnlock()
		if h != nil {
			c.handlerWG.Add(1)
			go func(msg Message) {
				defer c.handlerWG.Done()
				h(ctx, msg)
			}(e.Message)
		}
	}
}

func (c *Controller) onClosed(ctx context.Context, e Closed) {
	c.mu.Lock()
	if c.state.Phase == PhaseClosing {
		c.mu.Unlock()
		return
	}
	c.state.LastError = e.Err
	registered := c.state.Registered
	c.mu.Unlock()

	log := c.logger.WithField("reason", e.Reason)
	if e.Err != nil {
		log = log.WithError(e.Err)
	}
	log.Warn("Session connection closed")
	c.setStatus(fmt.Sprintf("Connection closed. Reason: %s", e.Reason))
	c.bus.Emit(lifecycle.EventSessionClosed, e.Reason)

	switch {
	case e.Reason.Transient():
		c.setPhase(PhaseConnecting)
		c.scheduleReconnect(ctx)

	case e.Reason == ReasonLoggedOut:
		if err := c.client.ClearCredentials(ctx); err != nil {
			c.logger.WithError(err).Error("Failed to clear session credentials")
		} else {
			c.logger.Info("Cleared session credentials after logout")
		}
		c.mu.Lock()
		c.state.Phase = PhaseDisconnected
		c.state.Registered = false
		c.lastQR = ""
		c.mu.Unlock()
		c.bus.Emit(lifecycle.EventPairingRequired, noticeLoggedOut)

	default:
		c.setPhase(PhaseDisconnected)
		if !registered {
			c.bus.Emit(lifecycle.EventPairingRequired, noticeConnectFailed)
		} else {
			c.setStatus("Connection halted. Restart the bot to reconnect.")
		}
	}
}

func (c *Controller) onConnectFailed(ctx context.Context, err error) {
	c.mu.Lock()
	c.state.LastError = err
	c.mu.Unlock()
	c.logger.WithError(err).Warn("Connection attempt failed")
	c.scheduleReconnect(ctx)
}

// scheduleReconnect arms a timer; the event loop never sleeps.
func (c *Controller) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	delay := backoffDelay(c.attempt, c.backoffBase, c.backoffMax)
	c.attempt++
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, func() { c.dial(ctx) })
	c.logger.WithFields(logrus.Fields{"attempt": c.attempt, "delay": delay}).Info("Reconnect scheduled")
}

func (c *Controller) dial(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := c.client.Connect(ctx); err != nil {
		select {
		case c.failures <- connectFailed{err: err}:
		case <-ctx.Done():
		}
	}
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.state.Phase = p
	c.mu.Unlock()
}

func (c *Controller) setStatus(text string) {
	c.mu.Lock()
	c.status = text
	c.mu.Unlock()
	c.bus.Status(text)
}
