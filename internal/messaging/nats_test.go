package messaging

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestModEventSubject(t *testing.T) {
	assert.Equal(t, "modevent.delete", ModEventSubject("DELETE"))
	assert.Equal(t, "modevent.kick", ModEventSubject("KICK"))
}

// newTestClient connects to a local NATS server and skips when none is
// running.
func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.URL = v
	}
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg, zap.NewNop())
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestModEventRoundTrip(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeModEvents(func(data []byte) { got <- data }))
	require.NoError(t, c.PublishModEvent("MUTE", []byte(`{"kind":"MUTE"}`)))

	select {
	case data := <-got:
		assert.JSONEq(t, `{"kind":"MUTE"}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for modevent")
	}
}

func TestModerationCheckQueue(t *testing.T) {
	c := newTestClient(t)

	got := make(chan []byte, 1)
	require.NoError(t, c.SubscribeModerationCheck("test-workers", func(data []byte) { got <- data }))
	require.NoError(t, c.PublishModerationRequest([]byte(`{}`)))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for moderation request")
	}

	assert.NoError(t, c.Unsubscribe(SubjectModerationCheck+"#test-workers"))
	assert.Error(t, c.Unsubscribe("nope"))
}
