package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	mu       sync.Mutex
	base     = newBase()
	loggers  = make(map[string]*logrus.Entry)
	disabled bool
)

// Options configures the process-wide logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Format string    // text (default) or json
	Output io.Writer // defaults to stderr
}

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(textFormatter(os.Stderr))
	return l
}

func textFormatter(w io.Writer) logrus.Formatter {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   !color,
	}
}

// Configure applies level, format and output to every logger.
// WABOT_LOG_LEVEL overrides opts.Level.
func Configure(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	levelStr := opts.Level
	if env := os.Getenv("WABOT_LOG_LEVEL"); env != "" {
		levelStr = env
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(levelStr))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if disabled {
		base.SetOutput(io.Discard)
	} else {
		base.SetOutput(out)
	}

	switch opts.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(textFormatter(out))
	}
}

// NewLogger returns the cached logger for a component.
func NewLogger(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[component]; ok {
		return l
	}
	l := base.WithField("component", component)
	loggers[component] = l
	return l
}

// Disable turns off all logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()
	disabled = true
	base.SetOutput(io.Discard)
}

// Enable turns logging back on
func Enable() {
	mu.Lock()
	defer mu.Unlock()
	disabled = false
	base.SetOutput(os.Stderr)
}

// Info logs an info message
func Info(v ...any) {
	base.Info(v...)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	base.Infof(format, v...)
}

// Error logs an error message
func Error(v ...any) {
	base.Error(v...)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	base.Errorf(format, v...)
}

// Warn logs a warning message
func Warn(v ...any) {
	base.Warn(v...)
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	base.Warnf(format, v...)
}

// Debug logs a debug message
func Debug(v ...any) {
	base.Debug(v...)
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	base.Debugf(format, v...)
}

type ctxKey struct{}

// WithContext attaches a component logger to ctx.
func WithContext(ctx context.Context, l *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the base logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if l, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return l
	}
	return logrus.NewEntry(base)
}
