// Package lifecycle provides the event bus that carries session, message and
// schedule events from their producers to observers.
package lifecycle

import (
	"sync"

	"github.com/neboloop/wabot/internal/logging"
)

// Event types for lifecycle hooks
type Event string

const (
	// Session events
	EventStatus          Event = "status"
	EventError           Event = "error"
	EventPairingRequired Event = "pairing_required"
	EventQRCode          Event = "qr_code"
	EventPairingCode     Event = "pairing_code"
	EventSessionOpened   Event = "session_opened"
	EventSessionClosed   Event = "session_closed"

	// Message events
	EventMessageReceived Event = "message_received"

	// Scheduler events
	EventScheduleChanged Event = "schedule_changed"

	// Process events
	EventShutdownStarted Event = "shutdown_started"
)

// Handler is a function that handles a lifecycle event
type Handler func(event Event, data any)

// PairingCode is the payload of EventPairingCode.
type PairingCode struct {
	Code      string
	ForNumber string
}

// Manager manages lifecycle event subscriptions and dispatching
type Manager struct {
	mu       sync.RWMutex
	handlers map[Event][]Handler
	all      []Handler
}

// NewManager creates an empty event manager.
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[Event][]Handler),
	}
}

// On registers a handler for a lifecycle event
func (m *Manager) On(event Event, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// OnAny registers a handler that receives every event.
func (m *Manager) OnAny(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, handler)
}

// Emit dispatches an event to all registered handlers
func (m *Manager) Emit(event Event, data any) {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.handlers[event])+len(m.all))
	handlers = append(handlers, m.handlers[event]...)
	handlers = append(handlers, m.all...)
	m.mu.RUnlock()

	logging.Debugf("[lifecycle] Emitting event: %s", event)
	for _, h := range handlers {
		// Run handlers synchronously (they can spawn goroutines if needed)
		h(event, data)
	}
}

// Status emits a status notice.
func (m *Manager) Status(text string) {
	m.Emit(EventStatus, text)
}

// OnStatus is a convenience function to register a status handler
func (m *Manager) OnStatus(handler func(text string)) {
	m.On(EventStatus, func(e Event, data any) {
		if s, ok := data.(string); ok {
			handler(s)
		}
	})
}

// OnPairingCode registers a handler for issued phone pairing codes
func (m *Manager) OnPairingCode(handler func(pc PairingCode)) {
	m.On(EventPairingCode, func(e Event, data any) {
		if pc, ok := data.(PairingCode); ok {
			handler(pc)
		}
	})
}

// OnShutdown is a convenience function to register a shutdown handler
func (m *Manager) OnShutdown(handler func()) {
	m.On(EventShutdownStarted, func(e Event, data any) {
		handler()
	})
}
