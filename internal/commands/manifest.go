package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/neboloop/wabot/internal/logging"
)

// ManifestSource tags commands loaded from the manifest file.
const ManifestSource = "manifest"

type manifestFile struct {
	Commands []manifestEntry `yaml:"commands"`
}

type manifestEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Cooldown    string `yaml:"cooldown"`
	Reply       string `yaml:"reply"`
}

// TextCommand replies with fixed text.
type TextCommand struct {
	name        string
	description string
	cooldown    time.Duration
	reply       string
}

func (c TextCommand) Name() string            { return c.name }
func (c TextCommand) Description() string     { return c.description }
func (c TextCommand) Cooldown() time.Duration { return c.cooldown }

func (c TextCommand) Execute(ctx context.Context, inv Invocation) error {
	return inv.Reply(ctx, c.reply)
}

// ParseManifest decodes manifest YAML. Entries without a name or reply, or
// with a bad cooldown, are skipped with a warning.
func ParseManifest(data []byte, defaultCooldown time.Duration) ([]Command, error) {
	var f manifestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	cmds := make([]Command, 0, len(f.Commands))
	for i, e := range f.Commands {
		name := strings.ToLower(strings.TrimSpace(e.Name))
		if name == "" || strings.ContainsAny(name, " \t\n") {
			logging.Warnf("[commands] Manifest entry %d has an invalid name %q, skipped", i, e.Name)
			continue
		}
		if strings.TrimSpace(e.Reply) == "" {
			logging.Warnf("[commands] Manifest command %q is missing a reply, skipped", name)
			continue
		}
		cd, err := parseCooldown(e.Cooldown, defaultCooldown)
		if err != nil {
			logging.Warnf("[commands] Manifest command %q: %v, skipped", name, err)
			continue
		}
		cmds = append(cmds, TextCommand{name: name, description: e.Description, cooldown: cd, reply: e.Reply})
	}
	return cmds, nil
}

// parseCooldown accepts a Go duration ("10s") or a bare number of seconds.
func parseCooldown(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		raw = fmt.Sprintf("%gs", secs)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid cooldown %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative cooldown %q", raw)
	}
	return d, nil
}

// LoadManifest reads path from fs and syncs its commands into registry. A
// missing file clears previously loaded manifest commands.
func LoadManifest(fs afero.Fs, registry *Registry, path string, defaultCooldown time.Duration) (int, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			registry.Sync(ManifestSource, nil)
			return 0, nil
		}
		return 0, fmt.Errorf("read manifest %s: %w", path, err)
	}
	cmds, err := ParseManifest(data, defaultCooldown)
	if err != nil {
		return 0, err
	}
	n := registry.Sync(ManifestSource, cmds)
	logging.Infof("[commands] Loaded %d manifest command(s) from %s", n, path)
	return n, nil
}
