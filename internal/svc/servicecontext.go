package svc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"

	"github.com/neboloop/wabot/internal/commands"
	"github.com/neboloop/wabot/internal/config"
	"github.com/neboloop/wabot/internal/cooldown"
	"github.com/neboloop/wabot/internal/crashlog"
	"github.com/neboloop/wabot/internal/defaults"
	"github.com/neboloop/wabot/internal/lifecycle"
	"github.com/neboloop/wabot/internal/logging"
	"github.com/neboloop/wabot/internal/realtime"
	"github.com/neboloop/wabot/internal/scheduler"
	"github.com/neboloop/wabot/internal/session"
	"github.com/neboloop/wabot/internal/session/loopback"
	"github.com/neboloop/wabot/internal/session/whatsapp"
)

// ServiceContext owns every long-lived component of the daemon.
type ServiceContext struct {
	Config  config.Config
	Paths   defaults.Paths
	Version string

	Bus        *lifecycle.Manager
	Store      *scheduler.Store
	Session    *session.Controller
	Scheduler  *scheduler.Loop
	Cooldowns  *cooldown.Tracker
	Commands   *commands.Registry
	Dispatcher *commands.Dispatcher
	Watcher    *commands.Watcher // nil when hot reload is off
	Hub        *realtime.Hub

	client    session.Client
	closeOnce sync.Once
}

// Option customizes construction.
type Option func(*options)

type options struct {
	client  session.Client
	version string
}

// WithClient injects the session client instead of building one from config.
func WithClient(c session.Client) Option {
	return func(o *options) { o.client = c }
}

// WithVersion records the build version reported by /health.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// NewServiceContext builds and wires all components. Nothing is started.
func NewServiceContext(ctx context.Context, c config.Config, paths defaults.Paths, opts ...Option) (*ServiceContext, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	svc := &ServiceContext{
		Config:  c,
		Paths:   paths,
		Version: o.version,
		Bus:     lifecycle.NewManager(),
	}
	crashlog.Init(afero.NewOsFs(), paths.CrashLog)

	svc.Store = scheduler.NewStore(SchedulePath(c, paths))
	if err := svc.Store.Load(); err != nil {
		return nil, fmt.Errorf("load scheduled messages: %w", err)
	}

	client := o.client
	if client == nil {
		var err error
		if client, err = newClient(ctx, c, paths); err != nil {
			return nil, err
		}
	}
	svc.client = client

	mode, _ := session.ParsePairingMode(c.Session.PairingMode)
	svc.Session = session.NewController(client, svc.Bus, session.WithPairing(mode, c.Session.PhoneNumber))

	svc.Scheduler = scheduler.NewLoop(svc.Store, svc.Session,
		scheduler.WithInterval(c.Scheduler.Interval),
		scheduler.WithChangeFunc(func(list []scheduler.Message) {
			svc.Bus.Emit(lifecycle.EventScheduleChanged, list)
		}),
	)

	svc.Cooldowns = cooldown.New()
	svc.Commands = commands.NewRegistry()
	commands.RegisterBuiltins(svc.Commands, svc.Store)

	manifest := manifestPath(c, paths)
	if n, err := commands.LoadManifest(afero.NewOsFs(), svc.Commands, manifest, c.Commands.DefaultCooldown); err != nil {
		logging.Warnf("[svc] Command manifest %s not loaded: %v", manifest, err)
	} else if n > 0 {
		logging.Infof("[svc] Loaded %d command(s) from %s", n, manifest)
	}
	if c.Commands.Watch {
		svc.Watcher = commands.NewWatcher(svc.Commands, manifest, c.Commands.DefaultCooldown)
	}

	svc.Hub = realtime.NewHub(svc.Session, svc.Store)
	svc.Hub.Subscribe(svc.Bus)

	svc.Dispatcher = commands.NewDispatcher(svc.Commands, svc.Cooldowns, svc.Session, c.App.Prefix)
	svc.Dispatcher.SetBroadcaster(svc.Hub)
	svc.Session.SetMessageHandler(svc.Dispatcher.HandleMessage)

	return svc, nil
}

func newClient(ctx context.Context, c config.Config, paths defaults.Paths) (session.Client, error) {
	switch c.Session.Adapter {
	case "loopback":
		logging.Warnf("[svc] Using loopback session adapter, messages are not delivered")
		return loopback.New(), nil
	default:
		db := c.Session.Database
		if db == "" {
			db = paths.SessionDB
		}
		client, err := whatsapp.New(ctx, whatsapp.Options{Database: db, DeviceName: c.Session.DeviceName})
		if err != nil {
			return nil, fmt.Errorf("open whatsapp session: %w", err)
		}
		return client, nil
	}
}

// SchedulePath returns the scheduled-message file for c.
func SchedulePath(c config.Config, paths defaults.Paths) string {
	if c.Scheduler.File != "" {
		return c.Scheduler.File
	}
	return paths.Schedule
}

func manifestPath(c config.Config, paths defaults.Paths) string {
	if c.Commands.Manifest != "" {
		return c.Commands.Manifest
	}
	return paths.Commands
}

// Client returns the session client the controller drives.
func (svc *ServiceContext) Client() session.Client {
	return svc.client
}

// Start connects the session and starts the scheduler and manifest watcher.
// Components run until Close; cancelling ctx does not stop them, so a
// shutdown signal never aborts a send in progress.
func (svc *ServiceContext) Start(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if err := svc.Session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if err := svc.Scheduler.Start(ctx); err != nil {
		svc.Session.Stop()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if svc.Watcher != nil {
		if err := svc.Watcher.Start(ctx); err != nil {
			logging.Warnf("[svc] Command manifest hot reload disabled: %v", err)
			svc.Watcher = nil
		}
	}
	return nil
}

// Close stops components in dependency order. The HTTP server is shut down
// by its owner before Close is called.
func (svc *ServiceContext) Close() {
	svc.closeOnce.Do(func() {
		svc.Bus.Emit(lifecycle.EventShutdownStarted, nil)
		if svc.Watcher != nil {
			svc.Watcher.Stop()
		}
		svc.Scheduler.Stop()
		svc.Session.Stop()
		svc.Hub.Close()
		svc.Cooldowns.Stop()
		if c, ok := svc.client.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logging.Warnf("[svc] Closing session client: %v", err)
			}
		}
		logging.Infof("[svc] Shutdown complete")
	})
}
