package modlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spaolacci/murmur3"
)

// Store archives moderation events in PostgreSQL. Message content is not
// stored verbatim; only a hash is kept so repeated spam can be correlated.
type Store struct {
	db *sql.DB
}

// NewStore creates a new archive backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL using the lib/pq driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("modlog: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("modlog: ping: %w", err)
	}
	return db, nil
}

// ContentHash returns the hex-encoded murmur3 hash of a message body.
func ContentHash(content string) string {
	if content == "" {
		return ""
	}
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(content)))
}

// Record inserts an event. Inserting the same event id twice is a no-op.
func (s *Store) Record(ctx context.Context, e Event) error {
	const query = `
		INSERT INTO mod_events (id, guild_id, channel_id, target_message_id, target_user_id,
			kind, duration_seconds, reason, content_hash, source, reporter_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.GuildID,
		e.ChannelID,
		e.TargetMessageID,
		e.TargetUserID,
		string(e.Kind),
		int64(e.Duration/time.Second),
		e.Reason,
		ContentHash(e.Content),
		string(e.Source),
		e.ReporterID,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("modlog: insert: %w", err)
	}
	return nil
}

// RecentForUser returns up to limit events against a member, newest first.
// Content is not restored.
func (s *Store) RecentForUser(ctx context.Context, guildID, userID string, limit int) ([]Event, error) {
	const query = `
		SELECT id, guild_id, channel_id, target_message_id, target_user_id,
			kind, duration_seconds, reason, source, reporter_id, created_at
		FROM mod_events
		WHERE guild_id = $1 AND target_user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, guildID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("modlog: recent for user: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			kind    string
			source  string
			seconds int64
		)
		if err := rows.Scan(&e.ID, &e.GuildID, &e.ChannelID, &e.TargetMessageID, &e.TargetUserID,
			&kind, &seconds, &e.Reason, &source, &e.ReporterID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("modlog: scan: %w", err)
		}
		e.Kind = Kind(kind)
		e.Source = Source(source)
		e.Duration = time.Duration(seconds) * time.Second
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("modlog: rows: %w", err)
	}
	return out, nil
}

// CountRecent returns how many events of kind were recorded against a
// member within window.
func (s *Store) CountRecent(ctx context.Context, guildID, userID string, kind Kind, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM mod_events
		WHERE guild_id = $1
		  AND target_user_id = $2
		  AND kind = $3
		  AND created_at >= NOW() - $4::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, guildID, userID, string(kind), window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("modlog: count recent: %w", err)
	}
	return count, nil
}
