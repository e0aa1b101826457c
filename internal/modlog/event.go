// Package modlog defines the immutable moderation event emitted for every
// moderation decision, and the PostgreSQL archive those events are written
// to for later review.
package modlog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the consequence a moderation event asks the executor to apply.
type Kind string

const (
	KindDelete Kind = "DELETE"
	KindMute   Kind = "MUTE"
	KindWarn   Kind = "WARN"
	KindKick   Kind = "KICK"
	KindBan    Kind = "BAN"
	// KindRemind asks the executor to post a reminder of the rules without
	// any sanction.
	KindRemind Kind = "REMIND"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDelete, KindMute, KindWarn, KindKick, KindBan, KindRemind:
		return true
	}
	return false
}

// Source records which pipeline produced an event.
type Source string

const (
	SourceAntispam  Source = "antispam"
	SourceUniversal Source = "universal"
	SourceReport    Source = "report"
)

// Target identifies the message and member a decision applies to.
type Target struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Content   string
}

// Event is a moderation decision. Events are values; nothing mutates them
// after Build returns.
type Event struct {
	ID              string        `json:"id"`
	GuildID         string        `json:"guild_id"`
	ChannelID       string        `json:"channel_id"`
	TargetMessageID string        `json:"target_message_id"`
	TargetUserID    string        `json:"target_user_id"`
	Kind            Kind          `json:"kind"`
	Duration        time.Duration `json:"duration,omitempty"`
	Reason          string        `json:"reason"`
	Content         string        `json:"content,omitempty"`
	Source          Source        `json:"source"`
	ReporterID      string        `json:"reporter_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Option customises Build.
type Option func(*Event)

// WithDuration sets the duration of a WARN or MUTE.
func WithDuration(d time.Duration) Option {
	return func(e *Event) { e.Duration = d }
}

// WithSource sets the producing pipeline. Defaults to SourceAntispam.
func WithSource(s Source) Option {
	return func(e *Event) { e.Source = s }
}

// WithReporter records the moderator who filed a report.
func WithReporter(id string) Option {
	return func(e *Event) { e.ReporterID = id }
}

// WithTime overrides the creation time.
func WithTime(t time.Time) Option {
	return func(e *Event) { e.CreatedAt = t }
}

// Build constructs an Event. A target without message or user id, or an
// unknown kind, is a programming error and panics.
func Build(t Target, kind Kind, reason string, opts ...Option) Event {
	if t.MessageID == "" || t.UserID == "" {
		panic(fmt.Sprintf("modlog: build %s: target message and user ids are required (message=%q user=%q)",
			kind, t.MessageID, t.UserID))
	}
	if !kind.Valid() {
		panic(fmt.Sprintf("modlog: build: unknown kind %q", kind))
	}

	e := Event{
		ID:              uuid.NewString(),
		GuildID:         t.GuildID,
		ChannelID:       t.ChannelID,
		TargetMessageID: t.MessageID,
		TargetUserID:    t.UserID,
		Kind:            kind,
		Reason:          reason,
		Content:         t.Content,
		Source:          SourceAntispam,
		CreatedAt:       time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}
