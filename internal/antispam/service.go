// Package antispam is the message moderation pipeline. A message is first
// checked against the universal rules, which apply to every author, and then
// against the gated rules, which only apply to members the trust gate does
// not exempt. Gated violations go through the strike tracker so a repeat
// offender inside the cooldown window is muted instead of warned again.
package antispam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/metrics"
	"github.com/whisper/modguard/internal/moderation"
	"github.com/whisper/modguard/internal/modlog"
	"github.com/whisper/modguard/internal/notify"
	"github.com/whisper/modguard/internal/strike"
	"github.com/whisper/modguard/internal/trust"
)

// ErrInvalidMessage is returned for messages the pipeline cannot act on.
var ErrInvalidMessage = errors.New("antispam: invalid message")

// Message is an inbound chat message together with its author.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Content   string
	Author    trust.Actor
	SentAt    time.Time
}

// FromRequest converts a gateway moderation request into a Message.
func FromRequest(req moderation.ModerationRequest) Message {
	m := Message{
		ID:        req.MessageID,
		ChannelID: req.ChannelID,
		GuildID:   req.GuildID,
		Content:   moderation.PrepareText(req.Text),
		Author: trust.Actor{
			ID:           req.AuthorID,
			GuildID:      req.GuildID,
			Username:     req.AuthorName,
			IsBot:        req.IsBot,
			IsModerator:  req.IsModerator,
			CanPostLinks: !req.LinksDisabled,
			Roles:        req.Roles,
		},
	}
	if req.Ts > 0 {
		m.SentAt = time.UnixMilli(req.Ts).UTC()
	}
	return m
}

func (m Message) target() modlog.Target {
	return modlog.Target{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		Content:   m.Content,
	}
}

// Decision is the outcome of running a message through the pipeline.
// Event is nil when the message is left alone.
type Decision struct {
	Event    *modlog.Event
	Category string
	Offense  int
	Exempt   bool // a gated rule matched but the author is exempt
	Degraded bool // the strike store failed
}

// Result renders the decision for the gateway.
func (d Decision) Result(m Message) moderation.ModerationResult {
	res := moderation.ModerationResult{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Category:  d.Category,
		Offense:   d.Offense,
	}
	if d.Event != nil {
		res.Blocked = true
		res.Action = string(d.Event.Kind)
		res.Reason = d.Event.Reason
		res.EventID = d.Event.ID
	}
	return res
}

// Service runs the moderation pipeline.
type Service struct {
	rules   *moderation.Rules
	gate    *trust.Gate
	tracker *strike.Tracker
	notices notify.NoticeSender
	logger  *zap.Logger
	now     func() time.Time
}

// NewService wires a pipeline. notices may be nil, in which case offenders
// are not told why their message was removed.
func NewService(rules *moderation.Rules, gate *trust.Gate, tracker *strike.Tracker, notices notify.NoticeSender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rules:   rules,
		gate:    gate,
		tracker: tracker,
		notices: notices,
		logger:  logger.Named("antispam"),
		now:     time.Now,
	}
}

// Premoderate runs both entry points: universal rules first, then the gated
// path. It returns ErrInvalidMessage for messages with no text or without
// the ids needed to act on them. Long messages are cut to
// moderation.MaxMatchBytes and still classified.
func (s *Service) Premoderate(ctx context.Context, m Message) (d Decision, err error) {
	start := time.Now()
	defer func() {
		metrics.ModerationLatency.Observe(time.Since(start).Seconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pipeline panic", zap.String("message", m.ID), zap.Any("panic", r))
			d, err = Decision{}, fmt.Errorf("antispam: premoderate %s: panic: %v", m.ID, r)
		}
	}()

	if err := validate(m); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		return Decision{}, err
	}
	m.Content = moderation.PrepareText(m.Content)

	if ev, category, ok := s.universal(m); ok {
		metrics.MessagesTotal.WithLabelValues("universal").Inc()
		return Decision{Event: &ev, Category: category}, nil
	}

	d = s.Moderate(ctx, m)
	switch {
	case d.Event != nil:
		metrics.MessagesTotal.WithLabelValues("flagged").Inc()
	case d.Exempt:
		metrics.MessagesTotal.WithLabelValues("exempt").Inc()
	default:
		metrics.MessagesTotal.WithLabelValues("clean").Inc()
	}
	return d, nil
}

func validate(m Message) error {
	if m.ID == "" || m.Author.ID == "" {
		return fmt.Errorf("%w: message and author ids are required", ErrInvalidMessage)
	}
	if err := moderation.ValidateMessage(m.Content); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ModerateUniversal applies the universal rules. They bypass the trust gate
// and the strike tracker: bots and moderators are moderated too, and a
// match never counts as an offense.
func (s *Service) ModerateUniversal(m Message) (modlog.Event, bool) {
	ev, _, ok := s.universal(m)
	return ev, ok
}

func (s *Service) universal(m Message) (modlog.Event, string, bool) {
	if s.rules.Universal == nil {
		return modlog.Event{}, "", false
	}
	category, ok := s.rules.Universal.Classify(m.Content)
	if !ok {
		return modlog.Event{}, "", false
	}

	reason := s.rules.Messages.UniversalReason
	if reason == "" {
		reason = category
	}
	s.logger.Info("universal rule matched",
		zap.String("guild", m.GuildID),
		zap.String("message", m.ID),
		zap.String("category", category))
	ev := modlog.Build(m.target(), modlog.KindDelete, reason,
		modlog.WithSource(modlog.SourceUniversal), modlog.WithTime(s.now().UTC()))
	return ev, category, true
}

// Moderate applies the gated path. A member without link permission who
// posts any link is moderated with the links disabled reason; otherwise the
// gated rules classify the message. Either way the author is consulted
// against the trust gate only once something matched.
func (s *Service) Moderate(ctx context.Context, m Message) Decision {
	category, ok := s.match(m)
	if !ok {
		return Decision{}
	}
	if s.gate.IsExempt(ctx, m.Author) {
		s.logger.Debug("exempt author matched gated rule",
			zap.String("member", m.Author.Key()),
			zap.String("category", category))
		return Decision{Category: category, Exempt: true}
	}

	out := s.tracker.Record(ctx, m.Author.Key())
	msgs := s.rules.Messages

	var reason string
	switch out.Kind {
	case modlog.KindDelete:
		reason = msgs.Render(msgs.DeleteReason, m.Author.Username, category)
	default:
		reason = msgs.Render(msgs.MuteReason, m.Author.Username, category)
	}
	ev := modlog.Build(m.target(), out.Kind, reason,
		modlog.WithSource(modlog.SourceAntispam), modlog.WithTime(s.now().UTC()))

	s.logger.Info("gated rule matched",
		zap.String("member", m.Author.Key()),
		zap.String("message", m.ID),
		zap.String("category", category),
		zap.String("kind", string(out.Kind)),
		zap.Int("offense", out.Offense),
		zap.Bool("degraded", out.Degraded))

	if out.Notify {
		s.notify(ctx, m, category)
	}
	return Decision{Event: &ev, Category: category, Offense: out.Offense, Degraded: out.Degraded}
}

func (s *Service) match(m Message) (string, bool) {
	if !m.Author.CanPostLinks && moderation.ContainsLink(m.Content) {
		return s.rules.LinksDisabledReason, true
	}
	return s.rules.Gated.Classify(m.Content)
}

func (s *Service) notify(ctx context.Context, m Message, category string) {
	if s.notices == nil {
		return
	}
	msgs := s.rules.Messages
	n := notify.Notice{
		Title:        msgs.Render(msgs.NoticeTitle, m.Author.Username, category),
		Description:  msgs.Render(msgs.NoticeDescription, m.Author.Username, category),
		Severity:     notify.SeverityError,
		GuildID:      m.GuildID,
		ChannelID:    m.ChannelID,
		TargetUserID: m.Author.ID,
	}
	if err := s.notices.SendNotice(ctx, n); err != nil {
		metrics.DeliveryFailures.WithLabelValues("notice").Inc()
		s.logger.Warn("send notice", zap.String("member", m.Author.Key()), zap.Error(err))
	}
}
