// Package commands parses prefixed chat messages and runs the matching
// command under a per-sender cooldown.
package commands

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/session"
)

// Sender delivers replies. Implemented by the session controller.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// Broadcaster pushes updates to web observers. Implemented by the realtime hub.
type Broadcaster interface {
	BroadcastSchedule()
}

// Invocation is everything a command needs to run once.
type Invocation struct {
	Sender      Sender
	Message     session.Message
	Args        []string
	Prefix      string
	Broadcaster Broadcaster
}

// Reply sends text back to the chat the command came from.
func (inv Invocation) Reply(ctx context.Context, text string) error {
	return inv.Sender.Send(ctx, inv.Message.From, text)
}

// Command is a chat command.
type Command interface {
	// Name is the lower-case key the command is invoked by.
	Name() string
	// Cooldown is the per-sender window between invocations. Zero disables it.
	Cooldown() time.Duration
	Execute(ctx context.Context, inv Invocation) error
}

// Describer is implemented by commands that show up in help.
type Describer interface {
	Description() string
}

// Registry maps names to commands. Commands are grouped by source so a
// reloaded manifest can replace its own entries without touching others.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	sources  map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
		sources:  make(map[string]string),
	}
}

const builtinSource = "builtin"

// Register adds a built-in command. Invalid commands are skipped.
func (r *Registry) Register(cmd Command) {
	r.register(builtinSource, cmd)
}

func (r *Registry) register(source string, cmd Command) bool {
	if cmd == nil {
		logging.Warnf("[commands] Skipping nil command from %s", source)
		return false
	}
	name := strings.ToLower(strings.TrimSpace(cmd.Name()))
	if name == "" {
		logging.Warnf("[commands] Skipping %T from %s: missing name", cmd, source)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.commands[name]; ok {
		if r.sources[name] == builtinSource && source != builtinSource {
			logging.Warnf("[commands] %s command %q would shadow a built-in, skipped", source, name)
			return false
		}
		logging.Warnf("[commands] Command %q already registered (%T), overwritten by %T", name, existing, cmd)
	}
	r.commands[name] = cmd
	r.sources[name] = source
	return true
}

// Sync replaces every command previously registered from source with cmds.
// It returns how many were registered.
func (r *Registry) Sync(source string, cmds []Command) int {
	r.mu.Lock()
	for name, src := range r.sources {
		if src == source {
			delete(r.commands, name)
			delete(r.sources, name)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, cmd := range cmds {
		if r.register(source, cmd) {
			n++
		}
	}
	return n
}

// Get returns the command registered under name.
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// List returns all command names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
