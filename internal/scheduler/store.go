package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/neboloop/wabot/internal/apperr"
	"github.com/neboloop/wabot/internal/logging"
)

// Message is a pending timed send.
type Message struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	SendAt    time.Time `json:"sendAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validation messages shown to callers as-is.
const (
	msgInvalidArguments = "Invalid arguments"
	msgInvalidDate      = "Invalid date format"
	msgNotFuture        = "Scheduled time must be in the future."
)

// Store is the durable list of pending sends. Every mutation rewrites the
// whole file.
type Store struct {
	mu       sync.Mutex
	fs       afero.Fs
	path     string
	messages []Message
	now      func() time.Time
	logger   *logrus.Entry
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithFs sets the filesystem the store file lives on.
func WithFs(fs afero.Fs) StoreOption {
	return func(s *Store) { s.fs = fs }
}

// WithClock overrides the time source used to validate sendAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store backed by path. Call Load before use.
func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		fs:     afero.NewOsFs(),
		path:   path,
		now:    time.Now,
		logger: logging.NewLogger("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the store file. A missing file is an empty set. An unreadable
// file is moved aside and also yields an empty set.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.messages = nil
			return nil
		}
		return fmt.Errorf("read %s: %w", s.path, err)
	}

	var msgs []Message
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &msgs); err != nil {
			backup := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
			s.logger.WithError(err).WithField("backup", backup).Error("Scheduled messages file is malformed, starting empty")
			if rerr := s.fs.Rename(s.path, backup); rerr != nil {
				s.logger.WithError(rerr).Warn("Failed to move malformed schedule file aside")
			}
			s.messages = nil
			return nil
		}
	}
	s.messages = msgs
	s.logger.WithField("count", len(msgs)).Info("Loaded scheduled messages")
	return nil
}

// Add validates and persists a new scheduled message.
func (s *Store) Add(to, text string, sendAt time.Time) (Message, error) {
	to = strings.TrimSpace(to)
	if to == "" || strings.TrimSpace(text) == "" || sendAt.IsZero() {
		return Message{}, apperr.New(apperr.CodeInvalidInput, msgInvalidArguments)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !sendAt.After(now) {
		return Message{}, apperr.New(apperr.CodeInvalidInput, msgNotFuture).WithDetail("sendAt", sendAt)
	}

	msg := Message{
		ID:        newID(now),
		To:        to,
		Text:      text,
		SendAt:    sendAt.UTC(),
		CreatedAt: now.UTC(),
	}
	s.messages = append(s.messages, msg)
	if err := s.flushLocked(); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return Message{}, apperr.Wrap(err, apperr.CodeInternal, "failed to save scheduled message")
	}

	s.logger.WithFields(logrus.Fields{"id": msg.ID, "to": msg.To, "sendAt": msg.SendAt}).Info("Message scheduled")
	return msg, nil
}

// Remove deletes an entry by id. It reports whether the entry existed; the
// file is only rewritten when something was removed.
func (s *Store) Remove(id string) (bool, error) {
	removed, err := s.RemoveMany([]string{id})
	return removed > 0, err
}

// RemoveMany deletes every listed id with a single write.
func (s *Store) RemoveMany(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	removed := len(s.messages) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	prev := s.messages
	s.messages = kept
	if err := s.flushLocked(); err != nil {
		s.messages = prev
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to save scheduled messages")
	}
	return removed, nil
}

// Get returns the entry with id.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// List returns a copy of every pending entry ordered by SendAt.
func (s *Store) List() []Message {
	s.mu.Lock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].SendAt.Before(out[j].SendAt) })
	return out
}

// Due returns entries whose SendAt is at or before now.
func (s *Store) Due(now time.Time) []Message {
	var due []Message
	for _, m := range s.List() {
		if !m.SendAt.After(now) {
			due = append(due, m)
		}
	}
	return due
}

// Len returns the number of pending entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// flushLocked rewrites the file through a temp file and rename.
func (s *Store) flushLocked() error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create schedule directory: %w", err)
	}

	msgs := s.messages
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scheduled messages: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	s.logger.WithField("count", len(msgs)).Debug("Scheduled messages saved")
	return nil
}

func newID(now time.Time) string {
	return fmt.Sprintf("msg_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// sendAtLayouts are accepted by ParseSendAt, most specific first. Layouts
// without a zone are read in local time, matching browser datetime inputs.
var sendAtLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// ParseSendAt parses an observer-supplied timestamp.
func ParseSendAt(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.New(apperr.CodeInvalidInput, msgInvalidArguments)
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range sendAtLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.New(apperr.CodeInvalidInput, msgInvalidDate).WithDetail("sendAt", raw)
}
