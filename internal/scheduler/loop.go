package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/neboloop/wabot/internal/logging"
)

// DefaultInterval is the sweep period used when none is configured.
const DefaultInterval = 60 * time.Second

// Sender delivers a text message. Implemented by the session controller.
type Sender interface {
	IsReady() bool
	Send(ctx context.Context, to, text string) error
}

// ChangeFunc receives the refreshed pending list after deliveries.
type ChangeFunc func([]Message)

// Loop sweeps the store on a fixed period and delivers due entries.
// A failed delivery keeps its entry, so it is retried on every tick until it
// succeeds or is cancelled.
type Loop struct {
	store    *Store
	sender   Sender
	interval time.Duration
	onChange ChangeFunc
	now      func() time.Time
	logger   *logrus.Entry

	mu      sync.Mutex
	cron    *cron.Cron
	tickMu  sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithChangeFunc sets the callback invoked after entries are delivered.
func WithChangeFunc(fn ChangeFunc) LoopOption {
	return func(l *Loop) { l.onChange = fn }
}

// WithLoopClock overrides the time source passed to Tick.
func WithLoopClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// NewLoop creates a loop over store delivering through sender.
func NewLoop(store *Store, sender Sender, opts ...LoopOption) *Loop {
	l := &Loop{
		store:    store,
		sender:   sender,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   logging.NewLogger("scheduler"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the sweep period.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

// Start schedules the periodic sweep. Ticks never overlap. Cancelling ctx
// does not abort a send in progress; only Stop ends the loop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(l.logger))))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", l.interval), func() {
		l.Tick(tickCtx, l.now())
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()

	l.cron = c
	l.cancel = cancel
	l.running = true
	l.logger.WithField("interval", l.interval).Info("Message scheduler initialized")
	return nil
}

// Stop halts the timer and waits for a tick in progress. In-flight sends are
// not cancelled.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	c, cancel := l.cron, l.cancel
	l.running = false
	l.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	l.logger.Info("Message scheduler stopped")
}

// Tick delivers every entry due at now and returns how many were sent.
func (l *Loop) Tick(ctx context.Context, now time.Time) int {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	due := l.store.Due(now)
	if len(due) == 0 {
		return 0
	}
	l.logger.WithField("count", len(due)).Info("Found scheduled message(s) to send")

	if !l.sender.IsReady() {
		l.logger.WithField("count", len(due)).Warn("Session not ready, keeping due messages for the next tick")
		return 0
	}

	var delivered []string
	for _, m := range due {
		log := l.logger.WithFields(logrus.Fields{"id": m.ID, "to": m.To})
		if err := l.sender.Send(ctx, m.To, m.Text); err != nil {
			log.WithError(err).Error("Error sending scheduled message, will retry")
			continue
		}
		log.Info("Scheduled message sent")
		delivered = append(delivered, m.ID)
	}

	if len(delivered) == 0 {
		return 0
	}
	if _, err := l.store.RemoveMany(delivered); err != nil {
		// Entries stay in memory and on disk; they will be sent again.
		l.logger.WithError(err).Error("Failed to remove delivered messages")
		return len(delivered)
	}
	if l.onChange != nil {
		l.onChange(l.store.List())
	}
	return len(delivered)
}
