package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/modguard/internal/modlog"
)

type recorder struct {
	events []modlog.Event
	err    error
}

func (r *recorder) Execute(_ context.Context, ev modlog.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Record(ctx context.Context, ev modlog.Event) error { return r.Execute(ctx, ev) }

func (r *recorder) Send(ctx context.Context, ev modlog.Event) error { return r.Execute(ctx, ev) }

func testEvent() modlog.Event {
	return modlog.Build(modlog.Target{GuildID: "g", ChannelID: "c", MessageID: "m", UserID: "u"},
		modlog.KindMute, "reason")
}

func TestDispatchFansOut(t *testing.T) {
	exec, archive, hook := &recorder{}, &recorder{}, &recorder{}
	d := New(exec, nil, WithArchive(archive), WithWebhook(hook))

	ev := testEvent()
	require.NoError(t, d.Dispatch(context.Background(), ev))

	assert.Equal(t, []modlog.Event{ev}, exec.events)
	assert.Equal(t, []modlog.Event{ev}, archive.events)
	assert.Equal(t, []modlog.Event{ev}, hook.events)
}

func TestDispatchExecutorFailure(t *testing.T) {
	boom := errors.New("nats down")
	archive, hook := &recorder{}, &recorder{}
	d := New(&recorder{err: boom}, nil, WithArchive(archive), WithWebhook(hook))

	err := d.Dispatch(context.Background(), testEvent())
	require.ErrorIs(t, err, boom)
	assert.Empty(t, archive.events)
	assert.Empty(t, hook.events)
}

func TestDispatchSinkFailuresAreSwallowed(t *testing.T) {
	exec := &recorder{}
	d := New(exec, nil,
		WithArchive(&recorder{err: errors.New("db down")}),
		WithWebhook(&recorder{err: errors.New("404")}))

	require.NoError(t, d.Dispatch(context.Background(), testEvent()))
	assert.Len(t, exec.events, 1)
}

type fakePublisher struct {
	kind string
	data []byte
}

func (p *fakePublisher) PublishModEvent(kind string, data []byte) error {
	p.kind, p.data = kind, data
	return nil
}

func TestBusExecutor(t *testing.T) {
	pub := &fakePublisher{}
	ev := testEvent()
	require.NoError(t, NewBusExecutor(pub).Execute(context.Background(), ev))

	assert.Equal(t, "MUTE", pub.kind)
	var got modlog.Event
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, ev.TargetUserID, got.TargetUserID)
}
