package antispam

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whisper/modguard/internal/history"
	"github.com/whisper/modguard/internal/moderation"
	"github.com/whisper/modguard/internal/modlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type bus struct {
	mu      sync.Mutex
	handler func([]byte)
	results map[string][][]byte
	events  []modlog.Event
	failExe bool
	ready   chan struct{}
}

func newBus() *bus {
	return &bus{results: make(map[string][][]byte), ready: make(chan struct{})}
}

func (b *bus) SubscribeModerationCheck(_ string, handler func([]byte)) error {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
	close(b.ready)
	return nil
}

func (b *bus) PublishModerationResult(guildID string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[guildID] = append(b.results[guildID], data)
	return nil
}

func (b *bus) Dispatch(_ context.Context, ev modlog.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failExe {
		return errors.New("executor unavailable")
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *bus) snapshot() ([]modlog.Event, [][]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]modlog.Event(nil), b.events...), append([][]byte(nil), b.results["g1"]...)
}

func request(t *testing.T, id, text string) []byte {
	t.Helper()
	data, err := json.Marshal(moderation.ModerationRequest{
		MessageID:  id,
		ChannelID:  "c1",
		GuildID:    "g1",
		Text:       text,
		AuthorID:   "u-" + id,
		AuthorName: "user",
		Ts:         time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	return data
}

func TestIntake_Handle(t *testing.T) {
	f := newFixture(t, nil)
	b := newBus()
	hist := history.NewBuffer(10)
	in := NewIntake(f.svc, b, b, hist, IntakeConfig{Workers: 2, Timeout: time.Second}, nil)
	ctx := context.Background()

	in.Handle(ctx, request(t, "m1", "hello"))
	in.Handle(ctx, request(t, "m2", inviteLink))
	in.Handle(ctx, request(t, "m3", fakeNews))
	in.Handle(ctx, []byte("{not json"))
	in.Handle(ctx, request(t, "m4", ""))
	in.Wait()

	events, results := b.snapshot()
	assert.Len(t, events, 2)
	assert.Len(t, results, 2)
	for _, raw := range results {
		var res moderation.ModerationResult
		require.NoError(t, json.Unmarshal(raw, &res))
		assert.True(t, res.Blocked)
		assert.Equal(t, "DELETE", res.Action)
		assert.NotEmpty(t, res.EventID)
	}

	// Valid messages feed the report context; rejected ones do not.
	assert.Len(t, hist.Get("c1"), 3)
}

func TestIntake_ExecutorFailureSkipsResult(t *testing.T) {
	f := newFixture(t, nil)
	b := newBus()
	b.failExe = true
	in := NewIntake(f.svc, b, b, nil, DefaultIntakeConfig(), nil)

	in.Handle(context.Background(), request(t, "m1", inviteLink))
	in.Wait()

	events, results := b.snapshot()
	assert.Empty(t, events)
	assert.Empty(t, results)
}

func TestIntake_Run(t *testing.T) {
	f := newFixture(t, nil)
	b := newBus()
	in := NewIntake(f.svc, b, b, nil, DefaultIntakeConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx, b) }()

	<-b.ready
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	handler(request(t, "m1", inviteLink))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("intake did not stop")
	}

	events, _ := b.snapshot()
	assert.Len(t, events, 1)
}
