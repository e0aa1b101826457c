package modlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to the database named by MODLOG_TEST_DATABASE_URL,
// applies migrations, and skips when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("MODLOG_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("MODLOG_TEST_DATABASE_URL not set")
	}
	require.NoError(t, Migrate(url))

	ctx := context.Background()
	db, err := Open(ctx, url)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM mod_events WHERE guild_id = 'test_guild'`)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.ExecContext(ctx, `DELETE FROM mod_events WHERE guild_id = 'test_guild'`)
		db.Close()
	})
	return NewStore(db)
}

func TestStore_RecordAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	target := Target{GuildID: "test_guild", ChannelID: "c", MessageID: "m1", UserID: "u1", Content: "x"}

	first := Build(target, KindDelete, "invite")
	second := Build(target, KindWarn, "tos", WithDuration(24*time.Hour), WithSource(SourceReport), WithReporter("mod"))
	require.NoError(t, s.Record(ctx, first))
	require.NoError(t, s.Record(ctx, second))
	require.NoError(t, s.Record(ctx, second))

	events, err := s.RecentForUser(ctx, "test_guild", "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	n, err := s.CountRecent(ctx, "test_guild", "u1", KindWarn, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, e := range events {
		if e.ID == second.ID {
			assert.Equal(t, 24*time.Hour, e.Duration)
			assert.Equal(t, "mod", e.ReporterID)
		}
	}
}
