// Package cooldown tracks per-command, per-sender invocation windows.
package cooldown

import (
	"fmt"
	"sync"
	"time"
)

type key struct {
	command string
	sender  string
}

type stamp struct {
	expiresAt time.Time
	timer     *time.Timer
}

// Tracker holds active cooldown stamps. Each stamp removes itself once its
// window elapses, so memory is bounded by active cooldowns.
type Tracker struct {
	mu     sync.Mutex
	stamps map[key]*stamp
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used to compute windows.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		stamps: make(map[key]*stamp),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CheckAndStamp records a fresh stamp and returns ok when no window is active
// for (command, sender). Otherwise it returns the remaining wait and leaves the
// existing stamp untouched. A non-positive cooldown always succeeds.
func (t *Tracker) CheckAndStamp(command, sender string, cooldown time.Duration) (time.Duration, bool) {
	if cooldown <= 0 {
		return 0, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := key{command: command, sender: sender}
	if s, ok := t.stamps[k]; ok {
		if now.Before(s.expiresAt) {
			return s.expiresAt.Sub(now), false
		}
		s.timer.Stop()
	}

	s := &stamp{expiresAt: now.Add(cooldown)}
	s.timer = time.AfterFunc(cooldown, func() { t.expire(k, s) })
	t.stamps[k] = s
	return 0, true
}

func (t *Tracker) expire(k key, s *stamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A newer stamp may have replaced this one.
	if cur, ok := t.stamps[k]; ok && cur == s {
		delete(t.stamps, k)
	}
}

// Len returns the number of active stamps.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stamps)
}

// Stop cancels every pending expiry timer and drops all stamps.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, s := range t.stamps {
		s.timer.Stop()
		delete(t.stamps, k)
	}
}

// FormatRemaining renders a wait time in seconds with one decimal.
func FormatRemaining(d time.Duration) string {
	return fmt.Sprintf("%.1f", d.Seconds())
}
