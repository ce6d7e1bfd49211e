// Package crashlog keeps a JSON-lines journal of panics and errors that
// survive recovery, so they can be inspected after the fact.
package crashlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/neboloop/wabot/internal/logging"
)

// Entry is one journal line.
type Entry struct {
	Time       time.Time         `json:"time"`
	Level      string            `json:"level"`
	Module     string            `json:"module"`
	Message    string            `json:"message"`
	Stacktrace string            `json:"stacktrace,omitempty"`
	Context    map[string]string `json:"context,omitempty"`
}

// Logger appends entries to a file.
// Safe for concurrent use from multiple goroutines.
type Logger struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

var (
	global   *Logger
	globalMu sync.Mutex
)

// Init sets up the global crash journal at path. Call once at startup.
func Init(fs afero.Fs, path string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = &Logger{fs: fs, path: path}
}

// Reset detaches the global journal.
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = nil
}

func current() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// LogPanic records a recovered panic with a full stack trace.
// Safe to call even if Init() was never called (logs only).
func LogPanic(module string, r any, ctx map[string]string) {
	msg := fmt.Sprintf("%v", r)
	stack := make([]byte, 8192)
	n := runtime.Stack(stack, false)
	stackStr := string(stack[:n])

	logging.NewLogger(module).WithField("stack", stackStr).Errorf("Recovered panic: %s", msg)

	if l := current(); l != nil {
		l.append(Entry{Level: "panic", Module: module, Message: msg, Stacktrace: stackStr, Context: ctx})
	}
}

// LogError records an error with optional context.
func LogError(module string, err error, ctx map[string]string) {
	if err == nil {
		return
	}
	logging.NewLogger(module).WithError(err).Error("Recorded error")

	if l := current(); l != nil {
		l.append(Entry{Level: "error", Module: module, Message: err.Error(), Context: ctx})
	}
}

func (l *Logger) append(e Entry) {
	e.Time = time.Now().UTC()
	line, err := json.Marshal(e)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		logging.Warnf("[crashlog] Cannot create %s: %v", filepath.Dir(l.path), err)
		return
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		logging.Warnf("[crashlog] Cannot open %s: %v", l.path, err)
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

// Read returns the journal entries at path, oldest first.
func Read(fs afero.Fs, path string) ([]Entry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Entry
	for _, line := range splitLines(data) {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
