package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/neboloop/wabot/internal/apperr"
	"github.com/neboloop/wabot/internal/scheduler"
)

// maxReminder bounds how far ahead !remind may schedule.
const maxReminder = 7 * 24 * 60

// Scheduler accepts future sends. Implemented by scheduler.Store.
type Scheduler interface {
	Add(to, text string, sendAt time.Time) (scheduler.Message, error)
}

// Builtins returns the statically registered commands.
func Builtins(registry *Registry, store Scheduler, now func() time.Time) []Command {
	if now == nil {
		now = time.Now
	}
	return []Command{
		Ping{},
		Help{registry: registry},
		Remind{store: store, now: now},
	}
}

// RegisterBuiltins registers every built-in command.
func RegisterBuiltins(registry *Registry, store Scheduler) {
	for _, cmd := range Builtins(registry, store, nil) {
		registry.Register(cmd)
	}
}

// Ping answers "Pong!".
type Ping struct{}

func (Ping) Name() string            { return "ping" }
func (Ping) Description() string     { return "Check that the bot is alive" }
func (Ping) Cooldown() time.Duration { return 5 * time.Second }

func (Ping) Execute(ctx context.Context, inv Invocation) error {
	return inv.Reply(ctx, "Pong!")
}

// Help lists registered commands.
type Help struct {
	registry *Registry
}

func (Help) Name() string            { return "help" }
func (Help) Description() string     { return "List available commands" }
func (Help) Cooldown() time.Duration { return 3 * time.Second }

func (h Help) Execute(ctx context.Context, inv Invocation) error {
	var b strings.Builder
	b.WriteString("Available commands:")
	for _, name := range h.registry.List() {
		b.WriteString("\n")
		b.WriteString(inv.Prefix + name)
		cmd, ok := h.registry.Get(name)
		if !ok {
			continue
		}
		if d, ok := cmd.(Describer); ok && d.Description() != "" {
			b.WriteString(" - " + d.Description())
		}
	}
	return inv.Reply(ctx, b.String())
}

// Remind schedules a message back to the sender.
type Remind struct {
	store Scheduler
	now   func() time.Time
}

func (Remind) Name() string            { return "remind" }
func (Remind) Description() string     { return "Schedule a reminder: <minutes> <text>" }
func (Remind) Cooldown() time.Duration { return 3 * time.Second }

func (r Remind) Execute(ctx context.Context, inv Invocation) error {
	usage := fmt.Sprintf("Usage: %sremind <minutes> <text>", inv.Prefix)
	if len(inv.Args) < 2 {
		return inv.Reply(ctx, usage)
	}
	minutes, err := strconv.Atoi(inv.Args[0])
	if err != nil || minutes < 1 || minutes > maxReminder {
		return inv.Reply(ctx, usage)
	}

	text := strings.Join(inv.Args[1:], " ")
	sendAt := r.now().Add(time.Duration(minutes) * time.Minute)
	msg, err := r.store.Add(inv.Message.From, "Reminder: "+text, sendAt)
	if err != nil {
		if apperr.Is(err, apperr.CodeInvalidInput) {
			return inv.Reply(ctx, apperr.Message(err))
		}
		return fmt.Errorf("schedule reminder: %w", err)
	}

	if inv.Broadcaster != nil {
		inv.Broadcaster.BroadcastSchedule()
	}
	return inv.Reply(ctx, fmt.Sprintf("Reminder set for %s (%d minute(s)). ID: %s",
		msg.SendAt.Local().Format("2006-01-02 15:04"), minutes, msg.ID))
}
