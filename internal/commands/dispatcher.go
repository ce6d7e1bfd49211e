package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neboloop/wabot/internal/cooldown"
	"github.com/neboloop/wabot/internal/crashlog"
	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/session"
)

// DefaultPrefix marks a message as a command.
const DefaultPrefix = "!"

const (
	msgCooldown = "Please wait %s more second(s) before reusing the %s command."
	msgFailed   = "Something went wrong while running this command."
)

// Dispatcher routes inbound messages to registered commands.
type Dispatcher struct {
	registry  *Registry
	cooldowns *cooldown.Tracker
	sender    Sender
	prefix    string
	logger    *logrus.Entry

	mu          sync.RWMutex
	broadcaster Broadcaster
}

// NewDispatcher creates a dispatcher. An empty prefix means DefaultPrefix.
func NewDispatcher(registry *Registry, cooldowns *cooldown.Tracker, sender Sender, prefix string) *Dispatcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Dispatcher{
		registry:  registry,
		cooldowns: cooldowns,
		sender:    sender,
		prefix:    prefix,
		logger:    logging.NewLogger("commands"),
	}
}

// SetBroadcaster attaches the observer hub handed to commands.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.broadcaster = b
}

// Prefix returns the command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// HandleMessage adapts Dispatch to session.MessageHandler.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg session.Message) {
	d.Dispatch(ctx, msg)
}

// Dispatch runs the command named in msg, if any. It reports whether a
// registered command matched. Command failures never escape.
func (d *Dispatcher) Dispatch(ctx context.Context, msg session.Message) bool {
	name, args, ok := d.parse(msg.Text)
	if !ok {
		return false
	}
	cmd, ok := d.registry.Get(name)
	if !ok {
		return false
	}

	log := d.logger.WithFields(logrus.Fields{"command": name, "sender": msg.From})
	if remaining, ok := d.cooldowns.CheckAndStamp(name, msg.From, cmd.Cooldown()); !ok {
		log.WithField("remaining", remaining).Debug("Command on cooldown")
		d.reply(ctx, msg.From, fmt.Sprintf(msgCooldown, cooldown.FormatRemaining(remaining), name))
		return true
	}

	d.mu.RLock()
	b := d.broadcaster
	d.mu.RUnlock()

	inv := Invocation{Sender: d.sender, Message: msg, Args: args, Prefix: d.prefix, Broadcaster: b}
	if err := d.execute(ctx, cmd, inv); err != nil {
		log.WithError(err).Error("Error executing command")
		d.reply(ctx, msg.From, msgFailed)
		return true
	}
	log.Debug("Command executed")
	return true
}

func (d *Dispatcher) parse(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, d.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(text[len(d.prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command, inv Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			crashlog.LogPanic("commands", r, map[string]string{"command": cmd.Name(), "from": inv.Message.From})
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cmd.Execute(ctx, inv)
}

func (d *Dispatcher) reply(ctx context.Context, to, text string) {
	if err := d.sender.Send(ctx, to, text); err != nil {
		d.logger.WithError(err).WithField("to", to).Warn("Failed to send reply")
	}
}
