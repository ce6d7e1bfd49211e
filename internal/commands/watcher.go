package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/neboloop/wabot/internal/logging"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the manifest when it changes on disk. The parent directory
// is watched so editors that replace the file by rename are seen too.
type Watcher struct {
	fs              afero.Fs
	registry        *Registry
	path            string
	defaultCooldown time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	reloads int
}

// NewWatcher creates a watcher for the manifest at path.
func NewWatcher(registry *Registry, path string, defaultCooldown time.Duration) *Watcher {
	// fsnotify only sees the real filesystem.
	return &Watcher{fs: afero.NewOsFs(), registry: registry, path: path, defaultCooldown: defaultCooldown}
}

// Start begins watching. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx, fw)
	logging.Infof("[commands] Watching %s for changes", w.path)
	return nil
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done, fw := w.cancel, w.done, w.watcher
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	fw.Close()
	<-done
}

// Reloads returns how many reloads have run.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logging.Errorf("[commands] Watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	if _, err := LoadManifest(w.fs, w.registry, w.path, w.defaultCooldown); err != nil {
		// Keep the previous commands until the file parses again.
		logging.Errorf("[commands] Manifest reload failed: %v", err)
	}
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
}
