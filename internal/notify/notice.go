// Package notify delivers the side effects of a moderation decision that
// are not the decision itself: the explanatory notice shown to an offender,
// and the modlog webhook posted for moderators. Delivery is best effort.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Severity of a notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notice is the payload shown to a member whose message was moderated.
type Notice struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Severity     Severity `json:"severity"`
	GuildID      string   `json:"guild_id"`
	ChannelID    string   `json:"channel_id"`
	TargetUserID string   `json:"target_user_id"`
}

// NoticeSender delivers notices to the chat transport.
type NoticeSender interface {
	SendNotice(ctx context.Context, n Notice) error
}

// NoticeFunc adapts a function to NoticeSender.
type NoticeFunc func(ctx context.Context, n Notice) error

func (f NoticeFunc) SendNotice(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// Publisher is the subset of the NATS client used here.
type Publisher interface {
	PublishNotice(guildID string, data []byte) error
}

// BusNoticeSender publishes notices for the gateway to post in the channel.
type BusNoticeSender struct {
	pub Publisher
}

var _ NoticeSender = (*BusNoticeSender)(nil)

func NewBusNoticeSender(pub Publisher) *BusNoticeSender {
	return &BusNoticeSender{pub: pub}
}

func (s *BusNoticeSender) SendNotice(_ context.Context, n Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal notice: %w", err)
	}
	if err := s.pub.PublishNotice(n.GuildID, data); err != nil {
		return fmt.Errorf("notify: publish notice: %w", err)
	}
	return nil
}
