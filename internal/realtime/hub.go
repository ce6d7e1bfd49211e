// Package realtime fans session and schedule events out to web observers and
// turns their requests into session and scheduler operations.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neboloop/wabot/internal/apperr"
	"github.com/neboloop/wabot/internal/lifecycle"
	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/scheduler"
	"github.com/neboloop/wabot/internal/session"
)

// Session is the part of the session controller observers can drive.
type Session interface {
	IsReady() bool
	Send(ctx context.Context, to, text string) error
	RequestPairing(ctx context.Context, mode session.PairingMode, phone string) (session.PairingArtifact, error)
	State() session.State
	StatusText() string
	LastQR() string
}

// Schedule is the scheduled-send store.
type Schedule interface {
	Add(to, text string, sendAt time.Time) (scheduler.Message, error)
	Remove(id string) (bool, error)
	List() []scheduler.Message
}

// listMessage always carries data, even when the list is empty.
type listMessage struct {
	Type string              `json:"type"`
	Data []scheduler.Message `json:"data"`
}

// Hub tracks connected observers.
type Hub struct {
	session  Session
	schedule Schedule
	logger   *logrus.Entry

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub serving sess and sched.
func NewHub(sess Session, sched Schedule) *Hub {
	return &Hub{
		session:  sess,
		schedule: sched,
		logger:   logging.NewLogger("realtime"),
		clients:  make(map[*Client]struct{}),
	}
}

// Register adds c and sends it the current state.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"client": c.ID, "observers": n}).Info("Web client connected")
	h.greet(c)
}

func (h *Hub) greet(c *Client) {
	msgs := []any{
		Message{Type: TypeStatus, Message: msgWelcome},
		Message{Type: TypeStatus, Message: h.session.StatusText()},
		h.scheduleList(),
	}
	if h.session.State().Registered {
		msgs = append(msgs, Message{Type: TypeStatus, Message: msgSessionActive})
	} else {
		msgs = append(msgs, Message{Type: TypePairingRequired, Message: msgNotLinked})
		if qr := h.session.LastQR(); qr != "" {
			msgs = append(msgs, Message{Type: TypeQRCode, Data: qr})
		}
	}
	for _, m := range msgs {
		if err := c.SendMessage(m); err != nil {
			h.logger.WithError(err).WithField("client", c.ID).Warn("Failed to greet web client")
			h.Unregister(c)
			return
		}
	}
}

// Unregister removes c and closes it. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.Close()
	if ok {
		h.logger.WithFields(logrus.Fields{"client": c.ID, "observers": n}).Info("Web client disconnected")
	}
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends v to every observer. Observers that cannot take the
// message are dropped.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.enqueue(data); err != nil {
			h.logger.WithError(err).WithField("client", c.ID).Warn("Dropping unresponsive web client")
			h.Unregister(c)
		}
	}
}

// BroadcastSchedule pushes the current scheduled list to every observer.
func (h *Hub) BroadcastSchedule() {
	h.Broadcast(h.scheduleList())
}

// BroadcastStatus pushes a status notice to every observer.
func (h *Hub) BroadcastStatus(text string) {
	h.Broadcast(Message{Type: TypeStatus, Message: text})
}

func (h *Hub) scheduleList() listMessage {
	list := h.schedule.List()
	if list == nil {
		list = []scheduler.Message{}
	}
	return listMessage{Type: TypeScheduledMessagesList, Data: list}
}

// Subscribe forwards lifecycle events to observers.
func (h *Hub) Subscribe(bus *lifecycle.Manager) {
	bus.On(lifecycle.EventStatus, func(_ lifecycle.Event, data any) {
		if s, ok := data.(string); ok {
			h.Broadcast(Message{Type: TypeStatus, Message: s})
		}
	})
	bus.On(lifecycle.EventError, func(_ lifecycle.Event, data any) {
		if s, ok := data.(string); ok {
			h.Broadcast(Message{Type: TypeError, Message: s})
		}
	})
	bus.On(lifecycle.EventPairingRequired, func(_ lifecycle.Event, data any) {
		s, _ := data.(string)
		h.Broadcast(Message{Type: TypePairingRequired, Message: s})
	})
	bus.On(lifecycle.EventQRCode, func(_ lifecycle.Event, data any) {
		if s, ok := data.(string); ok {
			h.Broadcast(Message{Type: TypeQRCode, Data: s})
		}
	})
	bus.OnPairingCode(func(pc lifecycle.PairingCode) {
		h.Broadcast(Message{Type: TypePairingCode, Data: pc.Code, ForNumber: pc.ForNumber})
	})
	bus.On(lifecycle.EventMessageReceived, func(_ lifecycle.Event, data any) {
		h.Broadcast(Message{Type: TypeNewMessage, Data: data})
	})
	bus.On(lifecycle.EventScheduleChanged, func(_ lifecycle.Event, data any) {
		if list, ok := data.([]scheduler.Message); ok {
			if list == nil {
				list = []scheduler.Message{}
			}
			h.Broadcast(listMessage{Type: TypeScheduledMessagesList, Data: list})
			return
		}
		h.BroadcastSchedule()
	})
}

// HandleInbound decodes one observer request and answers it.
func (h *Hub) HandleInbound(ctx context.Context, c *Client, raw []byte) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logger.WithError(err).WithField("client", c.ID).Warn("Malformed message from web client")
		h.reply(c, Message{Type: TypeError, Message: msgInvalidFormat})
		return
	}
	h.logger.WithFields(logrus.Fields{"client": c.ID, "type": req.Type}).Debug("Received from web client")

	switch req.Type {
	case TypePing:
		h.reply(c, Message{Type: TypePong})
	case TypeSendMessage:
		h.reply(c, h.sendMessage(ctx, req))
	case TypeScheduleMessage:
		res := h.scheduleMessage(req)
		h.reply(c, res)
		if res.Success {
			h.BroadcastSchedule()
		}
	case TypeCancelScheduledMessage:
		res := h.cancelScheduledMessage(req)
		h.reply(c, res)
		if res.Success {
			h.BroadcastSchedule()
		}
	case TypeGetScheduledMessages:
		h.reply(c, h.scheduleList())
	case TypeInitiatePairing:
		h.reply(c, h.initiatePairing(ctx, req))
	default:
		h.reply(c, Message{Type: TypeError, Message: msgUnknownRequest})
	}
}

func (h *Hub) sendMessage(ctx context.Context, req Request) Result {
	if req.To == "" || req.Text == "" {
		return Result{Message: msgInvalidArgs}
	}
	if err := h.session.Send(ctx, req.To, req.Text); err != nil {
		if errors.Is(err, apperr.ErrNotReady) {
			return Result{Message: msgNotConnected}
		}
		return Result{Message: apperr.Message(err)}
	}
	return Result{Success: true, Message: msgSent}
}

func (h *Hub) scheduleMessage(req Request) Result {
	if req.To == "" || req.Text == "" || req.SendAt == "" {
		return Result{Message: msgInvalidArgs}
	}
	sendAt, err := scheduler.ParseSendAt(req.SendAt)
	if err != nil {
		return Result{Message: apperr.Message(err)}
	}
	msg, err := h.schedule.Add(req.To, req.Text, sendAt)
	if err != nil {
		return Result{Message: apperr.Message(err)}
	}
	return Result{Success: true, Message: msgScheduled, Data: msg}
}

func (h *Hub) cancelScheduledMessage(req Request) Result {
	if req.MessageID == "" {
		return Result{Message: msgInvalidArgs}
	}
	removed, err := h.schedule.Remove(req.MessageID)
	if err != nil {
		return Result{Message: apperr.Message(err)}
	}
	if !removed {
		return Result{Message: msgIDNotFound}
	}
	return Result{Success: true, Message: msgCancelled}
}

func (h *Hub) initiatePairing(ctx context.Context, req Request) Result {
	mode, ok := session.ParsePairingMode(req.Method)
	if !ok {
		return Result{Message: "Unknown pairing method."}
	}
	art, err := h.session.RequestPairing(ctx, mode, req.PhoneNumber)
	if err != nil {
		return Result{Message: apperr.Message(err)}
	}
	if art.Mode == session.PairingQR || art.Code == "" {
		return Result{Success: true, Message: art.Notice, Data: art}
	}
	return Result{Success: true, Message: "Pairing code issued.", Data: art}
}

func (h *Hub) reply(c *Client, v any) {
	if err := c.SendMessage(v); err != nil {
		h.logger.WithError(err).WithField("client", c.ID).Warn("Failed to reply to web client")
		if errors.Is(err, ErrClientSendBufferFull) {
			h.Unregister(c)
		}
	}
}

// Close disconnects every observer. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*Client]struct{})
	h.closed = true
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.logger.WithField("observers", len(clients)).Info("Closed all web clients")
}
