package scheduler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/wabot/internal/apperr"
)

const testPath = "/data/data/scheduled_messages.json"

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s := NewStore(testPath, WithFs(fs), WithClock(func() time.Time { return testNow }))
	require.NoError(t, s.Load())
	return s, fs
}

func TestAddPersistsAndLists(t *testing.T) {
	s, fs := newTestStore(t)

	later, err := s.Add("222", "second", testNow.Add(2*time.Hour))
	require.NoError(t, err)
	sooner, err := s.Add("111", "first", testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.NotEqual(t, later.ID, sooner.ID)
	assert.Regexp(t, `^msg_\d+_[0-9a-f-]{8}$`, sooner.ID)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, sooner.ID, list[0].ID, "ordered by sendAt")
	assert.Equal(t, later.ID, list[1].ID)

	data, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	var onDisk []Message
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, 2)

	exists, err := afero.Exists(fs, testPath+".tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAddRejectsPastAndInvalid(t *testing.T) {
	s, fs := newTestStore(t)

	_, err := s.Add("111", "hi", testNow.Add(-time.Minute))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
	assert.Equal(t, "Scheduled time must be in the future.", apperr.Message(err))

	_, err = s.Add("111", "hi", testNow)
	assert.Error(t, err, "sendAt equal to now is not in the future")

	_, err = s.Add("", "hi", testNow.Add(time.Minute))
	assert.Equal(t, "Invalid arguments", apperr.Message(err))
	_, err = s.Add("111", "  ", testNow.Add(time.Minute))
	assert.Equal(t, "Invalid arguments", apperr.Message(err))

	assert.Empty(t, s.List())
	exists, _ := afero.Exists(fs, testPath)
	assert.False(t, exists, "rejected adds never write")
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, fs := newTestStore(t)

	msg, err := s.Add("111", "hi", testNow.Add(time.Minute))
	require.NoError(t, err)

	removed, err := s.Remove(msg.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, s.List())

	// A second remove finds nothing and leaves the file alone.
	require.NoError(t, fs.Remove(testPath))
	removed, err = s.Remove(msg.ID)
	require.NoError(t, err)
	assert.False(t, removed)
	exists, _ := afero.Exists(fs, testPath)
	assert.False(t, exists)
}

func TestReloadRestoresEntries(t *testing.T) {
	s, fs := newTestStore(t)

	msg, err := s.Add("111", "hi", testNow.Add(90*time.Second))
	require.NoError(t, err)

	reopened := NewStore(testPath, WithFs(fs))
	require.NoError(t, reopened.Load())
	got, ok := reopened.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, msg.To, got.To)
	assert.Equal(t, msg.Text, got.Text)
	assert.True(t, msg.SendAt.Equal(got.SendAt))
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))
}

func TestEmptyStoreWritesEmptyArray(t *testing.T) {
	s, fs := newTestStore(t)

	msg, err := s.Add("111", "hi", testNow.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.Remove(msg.ID)
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, testPath)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestMalformedFileIsMovedAside(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testPath, []byte("{not json"), 0644))

	s := NewStore(testPath, WithFs(fs), WithClock(func() time.Time { return testNow }))
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Len())

	backup := testPath + ".corrupt-" + "1740830400"
	exists, err := afero.Exists(fs, backup)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = s.Add("111", "hi", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestDueAndRemoveMany(t *testing.T) {
	s, _ := newTestStore(t)

	a, _ := s.Add("1", "a", testNow.Add(time.Minute))
	b, _ := s.Add("2", "b", testNow.Add(2*time.Minute))
	c, _ := s.Add("3", "c", testNow.Add(time.Hour))

	due := s.Due(testNow.Add(2 * time.Minute))
	require.Len(t, due, 2)
	assert.Equal(t, a.ID, due[0].ID)
	assert.Equal(t, b.ID, due[1].ID)

	n, err := s.RemoveMany([]string{a.ID, b.ID, "msg_missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)
}

func TestParseSendAt(t *testing.T) {
	got, err := ParseSendAt("2025-03-01T12:30:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)))

	got, err = ParseSendAt("2025-03-01T12:30")
	require.NoError(t, err)
	assert.Equal(t, time.Local, got.Location())
	assert.Equal(t, 30, got.Minute())

	_, err = ParseSendAt("tomorrow")
	assert.Equal(t, "Invalid date format", apperr.Message(err))

	_, err = ParseSendAt("")
	assert.Equal(t, "Invalid arguments", apperr.Message(err))
}
