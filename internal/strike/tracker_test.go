package strike

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/modguard/internal/modlog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct{}

func (failingStore) Trip(context.Context, string, time.Duration, bool) (Strike, error) {
	return Strike{}, errors.New("store down")
}
func (failingStore) State(context.Context, string) (Strike, error) {
	return Strike{}, errors.New("store down")
}
func (failingStore) Clear(context.Context, string) error { return errors.New("store down") }

func TestRecord_Escalation(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(NewMemStore(clock.Now), Config{Window: time.Hour}, nil)
	ctx := context.Background()

	first := tr.Record(ctx, "g:u")
	assert.Equal(t, modlog.KindDelete, first.Kind)
	assert.True(t, first.Notify)
	assert.Equal(t, 1, first.Offense)
	assert.Equal(t, clock.Now().Add(time.Hour), first.ExpiresAt)

	clock.Advance(30 * time.Minute)
	second := tr.Record(ctx, "g:u")
	assert.Equal(t, modlog.KindMute, second.Kind)
	assert.False(t, second.Notify)

	clock.Advance(31 * time.Minute)
	st, err := tr.State(ctx, "g:u")
	require.NoError(t, err)
	assert.False(t, st.Tripped())

	after := tr.Record(ctx, "g:u")
	assert.Equal(t, modlog.KindDelete, after.Kind)
	assert.True(t, after.Notify)
}

func TestRecord_MembersAreIndependent(t *testing.T) {
	tr := NewTracker(NewMemStore(nil), DefaultConfig(), nil)
	ctx := context.Background()

	assert.Equal(t, modlog.KindDelete, tr.Record(ctx, "g:a").Kind)
	assert.Equal(t, modlog.KindDelete, tr.Record(ctx, "g:b").Kind)
	assert.Equal(t, modlog.KindMute, tr.Record(ctx, "g:a").Kind)
}

func TestRecord_RepeatPolicies(t *testing.T) {
	tests := []struct {
		policy RepeatPolicy
		third  modlog.Kind
		fourth modlog.Kind
	}{
		{PolicyRepeat, modlog.KindMute, modlog.KindMute},
		{PolicyExtend, modlog.KindMute, modlog.KindMute},
		{PolicyEscalate, modlog.KindKick, modlog.KindKick},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			ctx := context.Background()
			tr := NewTracker(NewMemStore(nil), Config{Window: time.Hour, Policy: tt.policy, EscalateAt: 3}, nil)
			tr.Record(ctx, "k")
			assert.Equal(t, modlog.KindMute, tr.Record(ctx, "k").Kind)
			assert.Equal(t, tt.third, tr.Record(ctx, "k").Kind)
			assert.Equal(t, tt.fourth, tr.Record(ctx, "k").Kind)
		})
	}
}

func TestRecord_ExtendRestartsWindow(t *testing.T) {
	clock := newFakeClock()
	ctx := context.Background()

	repeat := NewTracker(NewMemStore(clock.Now), Config{Window: time.Hour, Policy: PolicyRepeat}, nil)
	extend := NewTracker(NewMemStore(clock.Now), Config{Window: time.Hour, Policy: PolicyExtend}, nil)

	repeat.Record(ctx, "k")
	extend.Record(ctx, "k")
	clock.Advance(50 * time.Minute)
	repeat.Record(ctx, "k")
	extend.Record(ctx, "k")
	clock.Advance(20 * time.Minute)

	// The repeat window started 70 minutes ago and has lapsed; the extended
	// one restarted 20 minutes ago.
	assert.Equal(t, modlog.KindDelete, repeat.Record(ctx, "k").Kind)
	assert.Equal(t, modlog.KindMute, extend.Record(ctx, "k").Kind)
}

func TestRecord_StoreFailureFallsBack(t *testing.T) {
	tr := NewTracker(failingStore{}, DefaultConfig(), nil)
	out := tr.Record(context.Background(), "k")
	assert.Equal(t, modlog.KindDelete, out.Kind)
	assert.True(t, out.Notify)
	assert.True(t, out.Degraded)
}

func TestRecord_ConcurrentSingleFirstOffense(t *testing.T) {
	tr := NewTracker(NewMemStore(nil), DefaultConfig(), nil)
	ctx := context.Background()

	var deletes, mutes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch tr.Record(ctx, "g:spammer").Kind {
			case modlog.KindDelete:
				deletes.Add(1)
			case modlog.KindMute:
				mutes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), deletes.Load())
	assert.Equal(t, int32(63), mutes.Load())
}

func TestPardon(t *testing.T) {
	tr := NewTracker(NewMemStore(nil), DefaultConfig(), nil)
	ctx := context.Background()

	tr.Record(ctx, "k")
	require.NoError(t, tr.Pardon(ctx, "k"))
	assert.Equal(t, modlog.KindDelete, tr.Record(ctx, "k").Kind)
}

func TestParseRepeatPolicy(t *testing.T) {
	p, err := ParseRepeatPolicy("escalate")
	require.NoError(t, err)
	assert.Equal(t, PolicyEscalate, p)

	_, err = ParseRepeatPolicy("nuke")
	assert.Error(t, err)
}
