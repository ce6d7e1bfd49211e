package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerIsCachedPerComponent(t *testing.T) {
	a := NewLogger("scheduler")
	b := NewLogger("scheduler")
	c := NewLogger("session")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "scheduler", a.Data["component"])
}

func TestConfigureJSONOutput(t *testing.T) {
	t.Setenv("WABOT_LOG_LEVEL", "")
	buf := &bytes.Buffer{}
	Configure(Options{Level: "debug", Format: "json", Output: buf})
	t.Cleanup(func() { Configure(Options{}) })

	NewLogger("hub").WithField("observer", "client-1").Debug("registered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hub", entry["component"])
	assert.Equal(t, "client-1", entry["observer"])
	assert.Equal(t, "registered", entry["msg"])
}

func TestEnvOverridesLevel(t *testing.T) {
	t.Setenv("WABOT_LOG_LEVEL", "error")
	buf := &bytes.Buffer{}
	Configure(Options{Level: "debug", Output: buf})
	t.Cleanup(func() { Configure(Options{}) })

	Infof("hidden %d", 1)
	assert.Empty(t, buf.String())

	Errorf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}

func TestFromContextFallsBackToBase(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := NewLogger("dispatcher")
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
