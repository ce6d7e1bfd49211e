package cooldown

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSecondCallWithinWindowIsRejected(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := New(WithClock(clock.Now))
	defer tr.Stop()

	_, ok := tr.CheckAndStamp("ping", "111@s.whatsapp.net", 5*time.Second)
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	remaining, ok := tr.CheckAndStamp("ping", "111@s.whatsapp.net", 5*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 3*time.Second, remaining)
	assert.Equal(t, "3.0", FormatRemaining(remaining))

	// Rejection does not move the window.
	clock.Advance(1500 * time.Millisecond)
	remaining, ok = tr.CheckAndStamp("ping", "111@s.whatsapp.net", 5*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 1500*time.Millisecond, remaining)
}

func TestCallAfterWindowSucceedsAndResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := New(WithClock(clock.Now))
	defer tr.Stop()

	_, ok := tr.CheckAndStamp("ping", "a", 5*time.Second)
	require.True(t, ok)

	clock.Advance(5 * time.Second)
	_, ok = tr.CheckAndStamp("ping", "a", 5*time.Second)
	require.True(t, ok)

	clock.Advance(time.Second)
	remaining, ok := tr.CheckAndStamp("ping", "a", 5*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 4*time.Second, remaining)
}

func TestWindowsAreScopedByCommandAndSender(t *testing.T) {
	tr := New()
	defer tr.Stop()

	_, ok := tr.CheckAndStamp("ping", "a", time.Minute)
	require.True(t, ok)

	_, ok = tr.CheckAndStamp("ping", "b", time.Minute)
	assert.True(t, ok, "other sender")
	_, ok = tr.CheckAndStamp("help", "a", time.Minute)
	assert.True(t, ok, "other command")
	assert.Equal(t, 3, tr.Len())
}

func TestZeroCooldownNeverStamps(t *testing.T) {
	tr := New()
	defer tr.Stop()

	for i := 0; i < 3; i++ {
		_, ok := tr.CheckAndStamp("help", "a", 0)
		assert.True(t, ok)
	}
	assert.Equal(t, 0, tr.Len())
}

func TestStampsExpireInBackground(t *testing.T) {
	tr := New()
	defer tr.Stop()

	_, ok := tr.CheckAndStamp("ping", "a", 30*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 1, tr.Len())

	require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestStaleTimerDoesNotRemoveNewerStamp(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := New(WithClock(clock.Now))
	defer tr.Stop()

	_, ok := tr.CheckAndStamp("ping", "a", 40*time.Millisecond)
	require.True(t, ok)

	// Fake clock says the window passed; real timer has not fired yet.
	clock.Advance(time.Second)
	_, ok = tr.CheckAndStamp("ping", "a", time.Hour)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, tr.Len())
}
