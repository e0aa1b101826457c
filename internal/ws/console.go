package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/modguard/internal/history"
	"github.com/whisper/modguard/internal/modlog"
	"github.com/whisper/modguard/internal/protocol"
	"github.com/whisper/modguard/internal/ratelimit"
	"github.com/whisper/modguard/internal/report"
)

// EventDispatcher hands submitted report events to the executor.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev modlog.Event) error
}

// Console implements the report flow on top of the WebSocket server.
type Console struct {
	server  *Server
	msgs    *MessageDispatcher
	reports *report.Manager
	history *history.Buffer
	events  EventDispatcher
	limiter ratelimit.Allower
	timeout time.Duration
	logger  *zap.Logger
}

// NewConsole registers the report handlers on msgs and the disconnect hook
// on server. hist and limiter may be nil.
func NewConsole(server *Server, msgs *MessageDispatcher, reports *report.Manager, hist *history.Buffer, events EventDispatcher, limiter ratelimit.Allower, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Console{
		server:  server,
		msgs:    msgs,
		reports: reports,
		history: hist,
		events:  events,
		limiter: limiter,
		timeout: 5 * time.Second,
		logger:  logger.Named("console"),
	}

	msgs.Register(protocol.TypeOpenReport, c.handleOpen)
	msgs.Register(protocol.TypeSelectReasons, c.handleSelectReasons)
	msgs.Register(protocol.TypeSelectActions, c.handleSelectActions)
	msgs.Register(protocol.TypeSubmitReport, c.handleSubmit)
	msgs.Register(protocol.TypeCancelReport, c.handleCancel)
	server.SetOnDisconnect(c.handleDisconnect)
	return c
}

func (c *Console) allow(conn *Connection, rule ratelimit.Rule, sessionID string) bool {
	if c.limiter == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	ok, err := c.limiter.Allow(ctx, conn.ModeratorID, rule)
	if err != nil {
		c.logger.Warn("rate limit check failed", zap.Error(err))
	}
	if !ok {
		c.msgs.SendError(conn, protocol.CodeRateLimited, "too many requests, slow down", sessionID)
	}
	return ok
}

func (c *Console) handleOpen(conn *Connection, msg interface{}) {
	m := msg.(protocol.OpenReportMsg)
	if !c.allow(conn, ratelimit.RuleReportOpen, "") {
		return
	}

	snap := report.Snapshot{
		MessageID:  m.MessageID,
		ChannelID:  m.ChannelID,
		GuildID:    m.GuildID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Content:    m.Content,
	}
	if c.history != nil && m.ChannelID != "" {
		snap.Context = c.history.Around(m.ChannelID, m.MessageID)
	}

	s, err := c.reports.Open(snap, conn.ModeratorID)
	if err != nil {
		c.replyError(conn, err, "")
		return
	}
	c.msgs.Send(conn, protocol.TypeReportView, protocol.ReportViewMsg{View: s.View()})
}

func (c *Console) handleSelectReasons(conn *Connection, msg interface{}) {
	m := msg.(protocol.SelectReasonsMsg)
	if !c.allow(conn, ratelimit.RuleReportAction, m.SessionID) {
		return
	}
	view, err := c.reports.SelectReasons(m.SessionID, conn.ModeratorID, m.Codes)
	if err != nil {
		c.replyError(conn, err, m.SessionID)
		return
	}
	c.msgs.Send(conn, protocol.TypeReportView, protocol.ReportViewMsg{View: view})
}

func (c *Console) handleSelectActions(conn *Connection, msg interface{}) {
	m := msg.(protocol.SelectActionsMsg)
	if !c.allow(conn, ratelimit.RuleReportAction, m.SessionID) {
		return
	}
	view, err := c.reports.SelectActions(m.SessionID, conn.ModeratorID, m.Codes)
	if err != nil {
		c.replyError(conn, err, m.SessionID)
		return
	}
	c.msgs.Send(conn, protocol.TypeReportView, protocol.ReportViewMsg{View: view})
}

func (c *Console) handleSubmit(conn *Connection, msg interface{}) {
	m := msg.(protocol.SubmitReportMsg)
	if !c.allow(conn, ratelimit.RuleReportAction, m.SessionID) {
		return
	}
	ev, err := c.reports.Submit(m.SessionID, conn.ModeratorID)
	if err != nil {
		c.replyError(conn, err, m.SessionID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.events.Dispatch(ctx, ev); err != nil {
		c.logger.Error("dispatch report event",
			zap.String("session", m.SessionID),
			zap.String("event", ev.ID),
			zap.Error(err))
		c.msgs.SendError(conn, protocol.CodeUnavailable, "the action could not be delivered, open a new report to retry", m.SessionID)
		return
	}

	c.msgs.Send(conn, protocol.TypeReportSubmitted, protocol.ReportSubmittedMsg{
		SessionID: m.SessionID,
		EventID:   ev.ID,
		Kind:      string(ev.Kind),
		Reason:    ev.Reason,
		Duration:  int(ev.Duration / time.Second),
	})
}

func (c *Console) handleCancel(conn *Connection, msg interface{}) {
	m := msg.(protocol.CancelReportMsg)
	if !c.allow(conn, ratelimit.RuleReportAction, m.SessionID) {
		return
	}
	if err := c.reports.Cancel(m.SessionID, conn.ModeratorID); err != nil {
		c.replyError(conn, err, m.SessionID)
		return
	}
	c.msgs.Send(conn, protocol.TypeReportCancelled, protocol.ReportCancelledMsg{SessionID: m.SessionID})
}

// handleDisconnect abandons the moderator's open reports once their last
// console connection is gone.
func (c *Console) handleDisconnect(conn *Connection, remaining int) {
	if remaining > 0 {
		return
	}
	if ids := c.reports.AbandonOwnedBy(conn.ModeratorID); len(ids) > 0 {
		c.logger.Info("abandoned reports of disconnected moderator",
			zap.String("moderator", conn.ModeratorID),
			zap.Strings("sessions", ids))
	}
}

func (c *Console) replyError(conn *Connection, err error, sessionID string) {
	code := protocol.CodeInvalid
	switch {
	case errors.Is(err, report.ErrNotFound):
		code = protocol.CodeNotFound
	case errors.Is(err, report.ErrNotAllowed):
		code = protocol.CodeNotAllowed
	}
	c.msgs.SendError(conn, code, err.Error(), sessionID)
}

// Reap expires idle reports, tells their owners, and sweeps the in-memory
// rate limiter when one is used.
func (c *Console) Reap() int {
	expired := c.reports.Reap()
	for _, s := range expired {
		data, err := protocol.NewServerMessage(protocol.TypeReportExpired, protocol.ReportExpiredMsg{SessionID: s.ID})
		if err != nil {
			c.logger.Error("build report_expired", zap.Error(err))
			continue
		}
		c.server.SendToModerator(s.ReporterID, data)
	}
	if sw, ok := c.limiter.(interface{ Sweep() int }); ok {
		sw.Sweep()
	}
	return len(expired)
}

// RunReaper calls Reap every interval until ctx is done.
func (c *Console) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Reap()
		}
	}
}
