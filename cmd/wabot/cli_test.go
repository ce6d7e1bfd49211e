package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/wabot/internal/logging"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	defaults, err := os.ReadFile(filepath.Join("..", "..", "etc", "wabot.yaml"))
	require.NoError(t, err)

	cmd := SetupRootCmd(defaults)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), err
}

func TestMain(m *testing.M) {
	logging.Disable()
	os.Exit(m.Run())
}

func TestScheduleCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WABOT_DATA_DIR", dir)

	out, err := execute(t, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No scheduled messages.")

	out, err = execute(t, "schedule", "add", "--to", "111", "--text", "hi", "--in", "1h")
	require.NoError(t, err)
	id := regexp.MustCompile(`msg_\d+_[0-9a-f-]{8}`).FindString(out)
	require.NotEmpty(t, id, out)

	out, err = execute(t, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "111")

	_, err = execute(t, "schedule", "add", "--to", "111", "--text", "hi", "--at", "2001-01-01T00:00")
	assert.EqualError(t, err, "Scheduled time must be in the future.")

	_, err = execute(t, "schedule", "add", "--to", "111", "--text", "hi", "--at", "tomorrow")
	assert.EqualError(t, err, "Invalid date format")

	out, err = execute(t, "schedule", "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Message cancelled successfully.")

	_, err = execute(t, "schedule", "cancel", id)
	assert.EqualError(t, err, "Message ID not found.")

	assert.FileExists(t, filepath.Join(dir, "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, "data", "scheduled_messages.json"))
}

func TestScheduleRefusesWhileLocked(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("WABOT_DATA_DIR", dir)

	lock, err := acquireLock(filepath.Join(dir, "wabot.lock"))
	require.NoError(t, err)
	defer releaseLock(lock)

	_, err = execute(t, "schedule", "list")
	assert.ErrorIs(t, err, errAlreadyRunning)
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("WABOT_DATA_DIR", t.TempDir())

	_, err := execute(t, "token")
	assert.Error(t, err)

	t.Setenv("WABOT_WEB_AUTH_SECRET", "s3cret")
	out, err := execute(t, "token", "--subject", "ops")
	require.NoError(t, err)
	assert.Regexp(t, `^[\w-]+\.[\w-]+\.[\w-]+\n$`, out)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "wabot dev")
}
